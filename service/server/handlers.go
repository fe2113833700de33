package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"brandshell/service/notification"
	"brandshell/service/pairing"
	"brandshell/service/shell"
	"brandshell/service/util"

	"github.com/go-chi/chi/v5"
)

const (
	maxPayloadBytes   = 64 << 10
	defaultInboxLimit = 50
	maxInboxLimit     = 500
)

type deliveryResponse struct {
	Destination notification.Destination `json:"destination"`
	Target      *notification.Target     `json:"target,omitempty"`
}

func newDeliveryResponse(dest notification.Destination) deliveryResponse {
	resp := deliveryResponse{Destination: dest}
	if target, ok := dest.Target(); ok {
		resp.Target = &target
	}
	return resp
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.shell.Status(r.Context())
	if err != nil {
		s.shellError(w, "Failed to read shell state", err)
		return
	}
	util.WriteJSON(w, s.logger, http.StatusOK, st)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	dc, err := notification.ParseDeliveryContext(r.URL.Query().Get("context"))
	if err != nil {
		util.JSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	raw, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	dest, err := s.shell.Deliver(r.Context(), raw, dc)
	if err != nil {
		s.shellError(w, "Failed to deliver notification", err)
		return
	}
	util.WriteJSON(w, s.logger, http.StatusAccepted, newDeliveryResponse(dest))
}

func (s *Server) handleRelayPush(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	dest, err := s.shell.DeliverRelay(r.Context(), chi.URLParam(r, "key"), raw)
	if err != nil {
		s.shellError(w, "Failed to deliver relayed notification", err)
		return
	}
	util.WriteJSON(w, s.logger, http.StatusAccepted, newDeliveryResponse(dest))
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	limit := defaultInboxLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			util.JSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxInboxLimit)
	}

	deliveries, err := s.shell.Recent(r.Context(), limit)
	if err != nil {
		util.LogAndError(w, s.logger, "Failed to read inbox", http.StatusInternalServerError, err)
		return
	}
	if deliveries == nil {
		deliveries = []notification.Delivery{}
	}
	util.WriteJSON(w, s.logger, http.StatusOK, deliveries)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.shell.Refresh(r.Context()); err != nil {
		s.shellError(w, "Failed to refresh content", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	handled, err := s.shell.Back(r.Context())
	if err != nil {
		s.shellError(w, "Failed to handle back", err)
		return
	}
	util.WriteJSON(w, s.logger, http.StatusOK, map[string]bool{"handled": handled})
}

func (s *Server) handleViewBanner(w http.ResponseWriter, r *http.Request) {
	s.bannerAction(w, r, s.shell.ViewDetails)
}

func (s *Server) handleDismissBanner(w http.ResponseWriter, r *http.Request) {
	s.bannerAction(w, r, s.shell.Dismiss)
}

func (s *Server) bannerAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (bool, error)) {
	found, err := action(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.shellError(w, "Failed to handle banner", err)
		return
	}
	if !found {
		util.JSONError(w, "Banner not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	tok, err := s.shell.RotateToken(r.Context())
	if err != nil {
		util.LogAndError(w, s.logger, "Failed to rotate device token", http.StatusBadGateway, err)
		return
	}
	util.WriteJSON(w, s.logger, http.StatusOK, map[string]string{"token": util.RedactToken(tok)})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	addr, err := s.shell.LaunchAddress(r.Context())
	if err != nil {
		s.shellError(w, "Failed to read launch address", err)
		return
	}

	opts := pairing.Options{
		Foreground: s.cfg.Brand.Colors.Primary,
		Background: s.cfg.Brand.Colors.Background,
	}

	if r.URL.Query().Get("format") == "datauri" {
		uri, err := pairing.DataURI(addr, opts)
		if err != nil {
			util.LogAndError(w, s.logger, "Failed to render QR code", http.StatusInternalServerError, err)
			return
		}
		util.WriteJSON(w, s.logger, http.StatusOK, map[string]string{"qr": uri})
		return
	}

	png, err := pairing.PNG(addr, opts)
	if err != nil {
		util.LogAndError(w, s.logger, "Failed to render QR code", http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			util.JSONError(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		util.JSONError(w, "Failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	return raw, true
}

func (s *Server) shellError(w http.ResponseWriter, message string, err error) {
	util.LogAndError(w, s.logger, message, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, shell.ErrRelayDisabled):
		return http.StatusNotFound
	case errors.Is(err, shell.ErrUnknownKey):
		return http.StatusForbidden
	case errors.Is(err, shell.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
