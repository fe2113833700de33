package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"brandshell/service/advisory"
	"brandshell/service/config"
	"brandshell/service/notification"
	"brandshell/service/shell"
	"brandshell/service/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// Shell is the part of the running shell the control surface drives.
type Shell interface {
	Status(ctx context.Context) (shell.Status, error)
	LaunchAddress(ctx context.Context) (string, error)
	Deliver(ctx context.Context, raw []byte, dc notification.DeliveryContext) (notification.Destination, error)
	DeliverRelay(ctx context.Context, key string, raw []byte) (notification.Destination, error)
	Recent(ctx context.Context, limit int) ([]notification.Delivery, error)
	Refresh(ctx context.Context) error
	Back(ctx context.Context) (bool, error)
	ViewDetails(ctx context.Context, bannerID string) (bool, error)
	Dismiss(ctx context.Context, bannerID string) (bool, error)
	RotateToken(ctx context.Context) (string, error)
	Advisories() *advisory.Registry
}

type Server struct {
	cfg        *config.Config
	shell      Shell
	broker     *Broker
	version    string
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server
	startTime  time.Time
}

func New(cfg *config.Config, sh Shell, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	s := &Server{
		cfg:       cfg,
		shell:     sh,
		broker:    NewBroker(logger),
		version:   version,
		logger:    logger,
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.logger))
	r.Use(securityHeadersMiddleware())
	r.Use(middleware.StripSlashes)
	if s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
	}

	r.Get("/health", s.handleHealth)

	// The relay authenticates with the per-registration key in the path.
	r.Post("/api/v1/push/relay/{key}", s.handleRelayPush)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.cfg.APIKey))

		r.Get("/api/v1/state", s.handleState)
		r.Post("/api/v1/push", s.handlePush)
		r.Get("/api/v1/inbox", s.handleInbox)
		r.Post("/api/v1/refresh", s.handleRefresh)
		r.Post("/api/v1/back", s.handleBack)
		r.Post("/api/v1/banners/{id}/view", s.handleViewBanner)
		r.Delete("/api/v1/banners/{id}", s.handleDismissBanner)
		r.Post("/api/v1/token/refresh", s.handleTokenRefresh)
		r.Get("/api/v1/events", s.broker.ServeHTTP)
		r.Get("/api/v1/qr", s.handleQR)
	})

	s.router = r
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled. Advisories published by the shell
// are streamed to event subscribers for as long as the server runs.
func (s *Server) Start(ctx context.Context) error {
	unsubscribe := s.shell.Advisories().Subscribe(s.broker.Publish)
	defer unsubscribe()
	go s.broker.Listen(ctx)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	msg := fmt.Sprintf("%s control surface on:\n  Local: http://localhost:%d", s.cfg.Brand.Name, s.cfg.Port)
	if lanIP := util.GetLANIP(); lanIP != "" {
		msg += fmt.Sprintf("\n  Network: http://%s:%d", lanIP, s.cfg.Port)
	}
	s.logger.Info(msg)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}
