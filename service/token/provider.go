// Package token owns the device push-registration token: permission
// gating, acquisition from the push transport and change notification.
package token

import (
	"context"
	"log/slog"
	"time"

	"brandshell/service/advisory"
	"brandshell/service/clock"
	"brandshell/service/util"
)

// Transport is the push service that issues device tokens. It may
// replace the token at any time and announces that through OnRefresh.
type Transport interface {
	Token(ctx context.Context) (string, error)
	OnRefresh(fn func(token string)) (unsubscribe func())
}

// Outcome explains why Fetch did or did not produce a token.
type Outcome int

const (
	OutcomeObtained Outcome = iota
	// OutcomeDenied is a normal terminal state, not a failure.
	OutcomeDenied
	// OutcomeFailed is a transport failure the caller may retry.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeObtained:
		return "obtained"
	case OutcomeDenied:
		return "denied"
	default:
		return "failed"
	}
}

const DeniedNotice = "Notifications are disabled. Enable them in settings to receive alerts."

type Provider struct {
	strategy    PermissionStrategy
	transport   Transport
	advisories  *advisory.Registry
	clock       clock.Clock
	noticeDelay time.Duration
	logger      *slog.Logger
}

type Options struct {
	Strategy   PermissionStrategy
	Transport  Transport
	Advisories *advisory.Registry
	Clock      clock.Clock
	// NoticeDelay postpones the denied-permission advisory so it does
	// not race the first render.
	NoticeDelay time.Duration
	Logger      *slog.Logger
}

func NewProvider(opts Options) *Provider {
	p := &Provider{
		strategy:    opts.Strategy,
		transport:   opts.Transport,
		advisories:  opts.Advisories,
		clock:       opts.Clock,
		noticeDelay: opts.NoticeDelay,
		logger:      opts.Logger,
	}
	if p.strategy == nil {
		p.strategy = AlwaysGranted{}
	}
	if p.clock == nil {
		p.clock = clock.Real()
	}
	if p.logger == nil {
		p.logger = util.DiscardLogger()
	}
	return p
}

func (p *Provider) CheckPermission(ctx context.Context) PermissionState {
	return p.strategy.Check(ctx)
}

func (p *Provider) RequestPermission(ctx context.Context, notifyOnDenied bool) PermissionState {
	state := p.strategy.Request(ctx)
	p.logger.Debug("Notification permission requested", "state", state)

	if state == PermissionDenied && notifyOnDenied && p.advisories != nil {
		p.clock.AfterFunc(p.noticeDelay, func() {
			a := advisory.Advisory{
				Kind:    advisory.KindWarning,
				Message: DeniedNotice,
			}
			if link := p.strategy.SettingsLink(); link != "" {
				a.Action = &advisory.Action{ID: advisory.ActionSettings, Label: "Open settings", Link: link}
			}
			p.advisories.Show(a)
		})
	}
	return state
}

// GetToken returns the device token, or "" and false when permission is
// not granted or the transport failed. It never returns an error.
func (p *Provider) GetToken(ctx context.Context, forceRequest, notifyOnDenied bool) (string, bool) {
	token, outcome := p.Fetch(ctx, forceRequest, notifyOnDenied)
	return token, outcome == OutcomeObtained
}

// Fetch is GetToken with the reason for a missing token.
func (p *Provider) Fetch(ctx context.Context, forceRequest, notifyOnDenied bool) (string, Outcome) {
	var state PermissionState
	if forceRequest {
		state = p.RequestPermission(ctx, notifyOnDenied)
	} else {
		switch state = p.CheckPermission(ctx); state {
		case PermissionGranted, PermissionDenied:
		default:
			state = p.RequestPermission(ctx, notifyOnDenied)
		}
	}

	if state != PermissionGranted {
		p.logger.Info("Push permission not granted, continuing without device token", "state", state)
		return "", OutcomeDenied
	}

	if p.transport == nil {
		p.logger.Warn("No push transport configured")
		return "", OutcomeFailed
	}

	token, err := p.transport.Token(ctx)
	if err != nil {
		p.logger.Error("Failed to get device token", "error", err)
		return "", OutcomeFailed
	}
	if token == "" {
		p.logger.Error("Push transport returned an empty device token")
		return "", OutcomeFailed
	}

	p.logger.Debug("Obtained device token", "token", util.RedactToken(token))
	return token, OutcomeObtained
}

// OnTokenRefresh subscribes fn to transport-initiated token changes. The
// caller must invoke the returned disposer on teardown.
func (p *Provider) OnTokenRefresh(fn func(token string)) (unsubscribe func()) {
	if p.transport == nil {
		return func() {}
	}
	return p.transport.OnRefresh(fn)
}
