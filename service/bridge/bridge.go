// Package bridge is the boundary between the hosted web content and the
// native shell. It owns the single content host, receives the content's
// messages, and is the only place where navigations are checked against
// the domain allow-list.
package bridge

import (
	"context"
	_ "embed"
	"log/slog"

	"brandshell/service/advisory"
	"brandshell/service/guard"
	"brandshell/service/util"
)

// BindingName is the global function the capability script calls to
// post a message to the shell.
const BindingName = "brandshellPost"

const BlockedNotice = "Navigation to external URLs is not allowed"

//go:embed capability.js
var capabilityScript string

// Script returns the JavaScript injected into every document before any
// page script runs. It defines window.MobileApp, intercepts window.open
// and announces readiness.
func Script() string { return capabilityScript }

// Host is the rendering engine that displays the content.
type Host interface {
	Load(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	StopLoading(ctx context.Context) error
	GoBack(ctx context.Context) error
}

// AddressSource supplies the current composed content address, used to
// recover from a blocked navigation when there is no history to go back
// to.
type AddressSource interface {
	Address() string
}

// AddressFunc adapts a function to AddressSource.
type AddressFunc func() string

func (f AddressFunc) Address() string { return f() }

// Launchers opens third-party apps requested by the content.
type Launchers interface {
	OpenWhatsApp(ctx context.Context, phone, message string) bool
	OpenSocial(ctx context.Context, platform, username, rawURL string) bool
	OpenWaze(ctx context.Context, lat, lng, name string) bool
}

// NavigationAttempt is a navigation-state change reported by the host.
// Pending is set when the host reports the navigation before it commits,
// so blocking it leaves the current page in place.
type NavigationAttempt struct {
	URL       string
	CanGoBack bool
	Pending   bool
}

type Options struct {
	Host       Host
	AllowList  guard.AllowList
	Address    AddressSource
	Launchers  Launchers
	Advisories *advisory.Registry
	Logger     *slog.Logger
}

// Bridge is not safe for concurrent use; every method must run on the
// shell's event loop.
type Bridge struct {
	host       Host
	allowList  guard.AllowList
	address    AddressSource
	launchers  Launchers
	advisories *advisory.Registry
	logger     *slog.Logger

	current   string
	canGoBack bool
	userAgent string
	closed    bool
}

func New(opts Options) *Bridge {
	b := &Bridge{
		host:       opts.Host,
		allowList:  opts.AllowList,
		address:    opts.Address,
		launchers:  opts.Launchers,
		advisories: opts.Advisories,
		logger:     opts.Logger,
	}
	if b.logger == nil {
		b.logger = util.DiscardLogger()
	}
	return b
}

// Load navigates the content to url.
func (b *Bridge) Load(ctx context.Context, url string) {
	if b.closed {
		return
	}
	b.current = url
	if err := b.host.Load(ctx, url); err != nil {
		b.logger.Error("Failed to load content", "url", url, "error", err)
	}
}

func (b *Bridge) Reload(ctx context.Context) {
	if b.closed {
		return
	}
	if err := b.host.Reload(ctx); err != nil {
		b.logger.Error("Failed to reload content", "error", err)
	}
}

// HandleNavigation checks a navigation reported by the host. A blocked
// navigation is stopped and announced. One that already committed is
// undone by going back or, without history, by reloading the composed
// address.
func (b *Bridge) HandleNavigation(ctx context.Context, attempt NavigationAttempt) guard.Decision {
	if b.closed {
		return guard.Block
	}
	b.canGoBack = attempt.CanGoBack

	decision := guard.Evaluate(attempt.URL, b.allowList)
	if decision == guard.Allow {
		b.current = attempt.URL
		b.logger.Debug("Navigation allowed", "url", attempt.URL)
		return decision
	}

	b.logger.Warn("Blocked navigation to disallowed URL", "url", attempt.URL)
	b.recover(ctx, attempt)
	return decision
}

// HandleBack handles the system back button. It reports whether the
// content consumed it; false means the caller should apply its default
// exit behaviour.
func (b *Bridge) HandleBack(ctx context.Context) bool {
	if b.closed || !b.canGoBack {
		return false
	}
	if err := b.host.GoBack(ctx); err != nil {
		b.logger.Error("Failed to navigate back", "error", err)
		return false
	}
	return true
}

func (b *Bridge) CanGoBack() bool { return b.canGoBack }

// Current is the last address loaded or accepted.
func (b *Bridge) Current() string { return b.current }

// UserAgent is the user agent the content reported when it initialized.
func (b *Bridge) UserAgent() string { return b.userAgent }

// Close detaches the bridge. Messages and navigations reported after
// Close are ignored.
func (b *Bridge) Close() { b.closed = true }

func (b *Bridge) recover(ctx context.Context, attempt NavigationAttempt) {
	if err := b.host.StopLoading(ctx); err != nil {
		b.logger.Debug("Failed to stop loading", "error", err)
	}
	if b.advisories != nil {
		b.advisories.Warn(BlockedNotice)
	}
	if attempt.Pending {
		return
	}

	if attempt.CanGoBack {
		err := b.host.GoBack(ctx)
		if err == nil {
			return
		}
		b.logger.Warn("Failed to go back after blocked navigation", "error", err)
	}

	target := b.current
	if b.address != nil {
		if addr := b.address.Address(); addr != "" {
			target = addr
		}
	}
	if target == "" {
		return
	}
	b.current = target
	if err := b.host.Load(ctx, target); err != nil {
		b.logger.Error("Failed to restore content address", "url", target, "error", err)
	}
}
