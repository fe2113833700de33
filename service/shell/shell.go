// Package shell wires the branded shell together: one content host, the
// bridge and its guard, the token-driven load lifecycle and the
// notification presenter, all driven from a single event loop.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brandshell/service/advisory"
	"brandshell/service/alert"
	"brandshell/service/bridge"
	"brandshell/service/chromehost"
	"brandshell/service/clock"
	"brandshell/service/config"
	"brandshell/service/guard"
	"brandshell/service/launcher"
	"brandshell/service/lifecycle"
	"brandshell/service/notification"
	"brandshell/service/pushrelay"
	"brandshell/service/token"
	"brandshell/service/util"
)

const (
	inboxRetention  = 30 * 24 * time.Hour
	shutdownTimeout = 5 * time.Second
)

var (
	ErrRelayDisabled = errors.New("push relay is not configured")
	ErrUnknownKey    = errors.New("unknown relay key")
)

// ContentHost is the rendering engine as the shell sees it.
type ContentHost interface {
	bridge.Host
	CanGoBack() bool
	Done() <-chan struct{}
	Close()
}

// HostFactory starts a content host that reports to handler.
type HostFactory func(handler chromehost.Handler) (ContentHost, error)

// Deps overrides the collaborators New would otherwise build from
// configuration.
type Deps struct {
	Host      HostFactory
	Opener    launcher.Opener
	Transport token.Transport
	Prompter  token.Prompter
	Alerter   alert.Notifier
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Status is the externally visible state of the shell.
type Status struct {
	Brand          string              `json:"brand"`
	Lifecycle      lifecycle.Snapshot  `json:"lifecycle"`
	Current        string              `json:"current,omitempty"`
	CanGoBack      bool                `json:"can_go_back"`
	NavigatorReady bool                `json:"navigator_ready"`
	UserAgent      string              `json:"user_agent,omitempty"`
	Advisories     []advisory.Advisory `json:"advisories"`
}

type Shell struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock
	loop   *Loop

	advisories *advisory.Registry
	allowList  guard.AllowList
	transport  token.Transport
	relay      *pushrelay.Transport
	provider   *token.Provider
	launcher   *launcher.Launcher
	alerter    alert.Notifier
	inbox      *notification.Store
	host       ContentHost
	bridge     *bridge.Bridge
	lifecycle  *lifecycle.Lifecycle
	presenter  *notification.Presenter

	// ctx lives from New until shutdown; host callbacks may use it from
	// any goroutine.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Config, deps Deps) (*Shell, error) {
	s := &Shell{
		cfg:        cfg,
		logger:     deps.Logger,
		clock:      deps.Clock,
		loop:       NewLoop(deps.Logger),
		advisories: advisory.NewRegistry(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if s.logger == nil {
		s.logger = util.DiscardLogger()
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}

	allowList, err := guard.Derive(cfg.Brand.ContentURL, cfg.Brand.AllowedDomains)
	if err != nil {
		// The lifecycle turns the same problem into its configuration
		// error state; with an empty list every navigation is blocked.
		s.logger.Warn("Could not derive allowed domains", "error", err)
	}
	s.allowList = allowList

	s.inbox, err = notification.NewStore(cfg.StoragePath, cfg.APIKey, s.logger)
	if err != nil {
		return nil, util.LogError(s.logger, "Failed to open notification inbox", err)
	}

	if err := s.buildTransport(deps.Transport); err != nil {
		s.cancel()
		_ = s.inbox.Close()
		return nil, err
	}

	prompter := deps.Prompter
	if prompter == nil {
		prompter = token.StaticPrompter{Grant: cfg.PushPermission == "granted"}
	}
	s.provider = token.NewProvider(token.Options{
		Strategy:    token.StrategyFor(cfg.Platform, cfg.PlatformAPILevel, cfg.Brand.PackageID, prompter),
		Transport:   s.transport,
		Advisories:  s.advisories,
		Clock:       s.clock,
		NoticeDelay: cfg.DeniedNoticeDelay,
		Logger:      s.logger,
	})

	opener := deps.Opener
	if opener == nil {
		opener = launcher.NewBrowserOpener(cfg.InstalledAppSchemes)
	}
	s.launcher = launcher.New(opener, s.advisories, s.logger)

	s.alerter = deps.Alerter
	if s.alerter == nil {
		if s.alerter, err = s.buildAlerter(); err != nil {
			s.cancel()
			_ = s.inbox.Close()
			return nil, err
		}
	}

	factory := deps.Host
	if factory == nil {
		factory = s.chromeHost
	}
	if s.host, err = factory(s); err != nil {
		s.cancel()
		_ = s.inbox.Close()
		return nil, err
	}

	s.bridge = bridge.New(bridge.Options{
		Host:       s.host,
		AllowList:  s.allowList,
		Address:    bridge.AddressFunc(func() string { return s.lifecycle.Address() }),
		Launchers:  s.launcher,
		Advisories: s.advisories,
		Logger:     s.logger,
	})

	retries := cfg.TokenRetries
	if retries == 0 {
		retries = -1
	}
	s.lifecycle = lifecycle.New(lifecycle.Options{
		Base:                 cfg.Brand.ContentURL,
		Tokens:               s.provider,
		Loader:               s.bridge,
		Executor:             s.loop,
		Advisories:           s.advisories,
		Clock:                s.clock,
		Alerter:              s.alerter,
		Logger:               s.logger,
		Retries:              retries,
		RetryDelay:           cfg.TokenRetryDelay,
		SkipUnchangedRefresh: !cfg.ReloadOnSameToken,
	})

	s.presenter = notification.NewPresenter(notification.PresenterOptions{
		Navigator:  s,
		Advisories: s.advisories,
		Inbox:      s.inbox,
		Logger:     s.logger,
	})

	return s, nil
}

func (s *Shell) buildTransport(override token.Transport) error {
	switch {
	case override != nil:
		s.transport = override
		if relay, ok := override.(*pushrelay.Transport); ok {
			s.relay = relay
		}
	case s.cfg.IsPushRelayEnabled():
		relay, err := pushrelay.NewTransport(pushrelay.Options{
			RelayURL:    s.cfg.PushRelayURL,
			APIKey:      s.cfg.PushRelayAPIKey,
			AppName:     s.cfg.Brand.PackageID,
			CallbackURL: s.cfg.PublicURL,
			Store:       s.inbox,
			Logger:      s.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to configure push relay: %w", err)
		}
		s.transport, s.relay = relay, relay
	default:
		s.transport = token.NewLocalTransport()
	}
	return nil
}

func (s *Shell) buildAlerter() (alert.Notifier, error) {
	if !s.cfg.IsTelegramEnabled() {
		return alert.Noop{}, nil
	}
	return alert.NewTelegram(alert.TelegramOptions{
		BotToken: s.cfg.TelegramBotToken,
		ChatID:   s.cfg.TelegramChatID,
		Brand:    s.cfg.Brand.Name,
		Logger:   s.logger,
	})
}

func (s *Shell) chromeHost(handler chromehost.Handler) (ContentHost, error) {
	return chromehost.Start(chromehost.Options{
		ExecPath:   s.cfg.ChromePath,
		RemoteURL:  s.cfg.ChromeRemoteURL,
		ProfileDir: s.cfg.ChromeProfileDir,
		Headless:   s.cfg.ChromeHeadless,
		Handler:    handler,
		Logger:     s.logger,
	})
}

// Run starts the lifecycle and serves the loop until ctx is cancelled or
// the content host goes away, then tears everything down.
func (s *Shell) Run(ctx context.Context) error {
	defer s.cancel()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		s.loop.Run(loopCtx)
	}()

	s.pruneInbox(s.ctx)
	s.loop.Post(func() { s.lifecycle.Start(s.ctx) })

	var err error
	select {
	case <-ctx.Done():
	case <-s.host.Done():
		err = errors.New("content host exited")
	}

	s.logger.Info("Shutting down shell")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if callErr := s.loop.Call(shutdownCtx, func() {
		s.lifecycle.Close()
		s.bridge.Close()
	}); callErr != nil {
		s.logger.Warn("Shell loop did not drain", "error", callErr)
	}
	s.cancel()
	stopLoop()
	<-loopDone
	s.loop.Wait()

	s.host.Close()
	if closeErr := s.inbox.Close(); closeErr != nil {
		s.logger.Error("Failed to close notification inbox", "error", closeErr)
	}
	return err
}

func (s *Shell) pruneInbox(ctx context.Context) {
	n, err := s.inbox.Prune(ctx, s.clock.Now().Add(-inboxRetention))
	if err != nil {
		s.logger.Error("Failed to prune notification inbox", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("Pruned old notifications", "count", n)
	}
}

func (s *Shell) Advisories() *advisory.Registry { return s.advisories }

func (s *Shell) Inbox() *notification.Store { return s.inbox }

// Recent lists the newest inbox deliveries.
func (s *Shell) Recent(ctx context.Context, limit int) ([]notification.Delivery, error) {
	return s.inbox.Recent(ctx, limit)
}

func (s *Shell) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.loop.Call(ctx, func() {
		st = Status{
			Brand:          s.cfg.Brand.Name,
			Lifecycle:      s.lifecycle.Snapshot(),
			Current:        s.bridge.Current(),
			CanGoBack:      s.host.CanGoBack(),
			NavigatorReady: s.presenter.Ready(),
			UserAgent:      s.bridge.UserAgent(),
		}
	})
	st.Advisories = s.advisories.Active()
	return st, err
}

// LaunchAddress is the composed content address, or the bare base
// before a token has been acquired.
func (s *Shell) LaunchAddress(ctx context.Context) (string, error) {
	var addr string
	err := s.loop.Call(ctx, func() { addr = s.lifecycle.Address() })
	if err == nil && addr == "" {
		addr = s.cfg.Brand.ContentURL
	}
	return addr, err
}

// Deliver presents a push payload received in context dc.
func (s *Shell) Deliver(ctx context.Context, raw []byte, dc notification.DeliveryContext) (notification.Destination, error) {
	var dest notification.Destination
	err := s.loop.Call(ctx, func() { dest = s.presenter.Deliver(s.ctx, raw, dc) })
	return dest, err
}

// DeliverRelay presents a notification forwarded by the push relay to
// the endpoint registered under key.
func (s *Shell) DeliverRelay(ctx context.Context, key string, raw []byte) (notification.Destination, error) {
	if s.relay == nil {
		return notification.Destination{}, ErrRelayDisabled
	}
	if !s.relay.AcceptsKey(key) {
		return notification.Destination{}, ErrUnknownKey
	}
	payload, err := pushrelay.ParseMessage(raw)
	if err != nil {
		s.logger.Warn("Malformed relay notification", "error", err)
	}

	var dest notification.Destination
	err = s.loop.Call(ctx, func() { dest = s.presenter.Present(s.ctx, payload, notification.Foreground) })
	return dest, err
}

func (s *Shell) Refresh(ctx context.Context) error {
	return s.loop.Call(ctx, s.lifecycle.Refresh)
}

// Back handles the hardware back button and reports whether the content
// consumed it.
func (s *Shell) Back(ctx context.Context) (bool, error) {
	var handled bool
	err := s.loop.Call(ctx, func() { handled = s.bridge.HandleBack(s.ctx) })
	return handled, err
}

func (s *Shell) ViewDetails(ctx context.Context, bannerID string) (bool, error) {
	var ok bool
	err := s.loop.Call(ctx, func() { ok = s.presenter.ViewDetails(s.ctx, bannerID) })
	return ok, err
}

func (s *Shell) Dismiss(ctx context.Context, bannerID string) (bool, error) {
	var ok bool
	err := s.loop.Call(ctx, func() { ok = s.presenter.Dismiss(bannerID) })
	return ok, err
}

// RotateToken asks the push transport for a new device token. The
// lifecycle reloads the content when the transport announces it.
func (s *Shell) RotateToken(ctx context.Context) (string, error) {
	rotator, ok := s.transport.(interface {
		Rotate(ctx context.Context) (string, error)
	})
	if !ok {
		return "", fmt.Errorf("push transport cannot rotate tokens")
	}
	tok, err := rotator.Rotate(ctx)
	if err != nil {
		return "", util.LogError(s.logger, "Failed to rotate device token", err)
	}
	return tok, nil
}

// Navigation implements chromehost.Handler.
func (s *Shell) Navigation(attempt bridge.NavigationAttempt) guard.Decision {
	decision := guard.Block
	err := s.loop.Call(s.ctx, func() {
		decision = s.bridge.HandleNavigation(s.ctx, attempt)
	})
	if err != nil {
		s.logger.Debug("Navigation refused during shutdown", "url", attempt.URL, "error", err)
		return guard.Block
	}
	return decision
}

func (s *Shell) Message(payload []byte) {
	s.loop.Post(func() { s.bridge.HandleMessage(s.ctx, payload) })
}

func (s *Shell) LoadError(description string) {
	s.loop.Post(func() { s.lifecycle.HandleLoadError(description) })
}

func (s *Shell) Loaded() {
	s.loop.Post(func() {
		s.lifecycle.HandleLoadFinished()
		if !s.presenter.Ready() && s.lifecycle.Address() != "" {
			if n := s.presenter.FlushPending(s.ctx); n > 0 {
				s.logger.Info("Delivered deferred notifications", "count", n)
			}
		}
	})
}

func (s *Shell) ProcessGone() {
	s.loop.Post(s.lifecycle.HandleProcessGone)
}

var (
	_ chromehost.Handler          = (*Shell)(nil)
	_ pushrelay.RegistrationStore = (*notification.Store)(nil)
)
