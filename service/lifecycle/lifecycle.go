// Package lifecycle composes the content address from the configured
// base and the device token, and drives the content through its load
// states: initializing, ready, degraded, or misconfigured.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"brandshell/service/advisory"
	"brandshell/service/clock"
	"brandshell/service/config"
	"brandshell/service/token"
	"brandshell/service/util"
)

type State int

const (
	StateInitializing State = iota
	StateReady
	StateDegraded
	StateConfigError
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateConfigError:
		return "config_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const (
	ConfigErrorNotice = "This app is not configured correctly. The content address is missing or invalid. Please contact support."
	TokenRetryNotice  = "Could not register for notifications (attempt %d of %d). Retrying..."
	TokenFailedNotice = "Could not register for notifications. Continuing without them."
	LoadErrorNotice   = "Unable to load content. Check your connection and try again."
	ProcessGoneNotice = "The content stopped unexpectedly. Reloading..."

	defaultRetries    = 3
	defaultRetryDelay = time.Second
)

// ComposeURL returns the loadable address for base and token. Without a
// token the base is returned unchanged.
func ComposeURL(base, token string) string {
	if token == "" {
		return base
	}
	return base + "?device=" + token
}

// ValidateBase reports why base cannot be used as a content address.
func ValidateBase(base string) error {
	base = strings.TrimSpace(base)
	if base == "" || base == config.UnsetContentURL {
		return fmt.Errorf("content address is not configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid content address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("content address must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("content address has no host")
	}
	return nil
}

// Executor serializes state changes. Post queues f on the event loop; Go
// runs blocking work off the loop.
type Executor interface {
	Post(f func())
	Go(f func())
}

// Loader is the part of the content bridge the lifecycle drives.
type Loader interface {
	Load(ctx context.Context, url string)
	Reload(ctx context.Context)
}

type TokenSource interface {
	Fetch(ctx context.Context, forceRequest, notifyOnDenied bool) (string, token.Outcome)
	OnTokenRefresh(fn func(string)) (unsubscribe func())
}

// Alerter tells an operator about deployment problems.
type Alerter interface {
	Alert(ctx context.Context, message string) error
}

type Options struct {
	Base       string
	Tokens     TokenSource
	Loader     Loader
	Executor   Executor
	Advisories *advisory.Registry
	Clock      clock.Clock
	Alerter    Alerter
	Logger     *slog.Logger

	// Retries is the number of extra token attempts after the first
	// failure, 3 when zero and none when negative. RetryDelay is the
	// fixed pause before each of them.
	Retries    int
	RetryDelay time.Duration

	// SkipUnchangedRefresh suppresses the reload when a token refresh
	// delivers the token already held.
	SkipUnchangedRefresh bool
}

type Snapshot struct {
	State      State  `json:"state"`
	Base       string `json:"base"`
	Address    string `json:"address,omitempty"`
	HasToken   bool   `json:"has_token"`
	AdvisoryID string `json:"advisory_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Lifecycle must only be used from the executor's event loop.
type Lifecycle struct {
	base       string
	tokens     TokenSource
	loader     Loader
	exec       Executor
	advisories *advisory.Registry
	clock      clock.Clock
	alerter    Alerter
	logger     *slog.Logger
	retries    int
	retryDelay time.Duration
	skipSame   bool

	state       State
	token       string
	address     string
	reason      string
	advisoryID  string
	tokenFailed bool
	loadFailed  bool
	started     bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

func New(opts Options) *Lifecycle {
	l := &Lifecycle{
		base:       strings.TrimSpace(opts.Base),
		tokens:     opts.Tokens,
		loader:     opts.Loader,
		exec:       opts.Executor,
		advisories: opts.Advisories,
		clock:      opts.Clock,
		alerter:    opts.Alerter,
		logger:     opts.Logger,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		skipSame:   opts.SkipUnchangedRefresh,
	}
	if l.clock == nil {
		l.clock = clock.Real()
	}
	if l.logger == nil {
		l.logger = util.DiscardLogger()
	}
	switch {
	case opts.Retries == 0:
		l.retries = defaultRetries
	case opts.Retries < 0:
		l.retries = 0
	}
	if l.retryDelay <= 0 {
		l.retryDelay = defaultRetryDelay
	}
	if l.advisories == nil {
		l.advisories = advisory.NewRegistry()
	}
	return l
}

// Start validates the base address and begins token acquisition. The
// first content load happens once acquisition has finished.
func (l *Lifecycle) Start(ctx context.Context) {
	if l.started || l.closed {
		return
	}
	l.started = true

	if err := ValidateBase(l.base); err != nil {
		l.enterConfigError(ctx, err)
		return
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.ctx = ctx
	if l.tokens != nil {
		l.unsubscribe = l.tokens.OnTokenRefresh(func(tok string) {
			l.exec.Post(func() { l.handleTokenRefresh(ctx, tok) })
		})
	}

	l.state = StateInitializing
	l.logger.Info("Acquiring device token", "base", l.base)
	l.acquire(ctx, func(tok string, outcome token.Outcome) {
		l.tokenFailed = outcome == token.OutcomeFailed
		if tok != "" {
			l.token = tok
		}
		l.address = ComposeURL(l.base, l.token)
		l.updateState()
		l.logger.Info("Loading content", "state", l.state, "token", util.RedactToken(l.token))
		l.loader.Load(ctx, l.address)
	})
}

// Refresh is the user's manual refresh. Token acquisition is retried
// only when no token is held; the content is reloaded either way.
func (l *Lifecycle) Refresh() {
	if l.closed || !l.started {
		return
	}
	ctx := l.ctx
	switch l.state {
	case StateConfigError:
		l.logger.Debug("Ignoring refresh in config error state")
		return
	case StateInitializing:
		l.logger.Debug("Ignoring refresh while initializing")
		return
	}

	l.loadFailed = false
	l.clearAdvisory()

	if l.token != "" {
		l.updateState()
		l.loader.Reload(ctx)
		return
	}

	l.acquire(ctx, func(tok string, outcome token.Outcome) {
		if tok != "" && l.token == "" {
			l.token = tok
		}
		l.tokenFailed = l.token == "" && outcome == token.OutcomeFailed
		l.address = ComposeURL(l.base, l.token)
		l.updateState()
		l.loader.Load(ctx, l.address)
	})
}

// HandleLoadError records a content load failure reported by the host.
// The content is not reloaded automatically; the advisory offers a retry
// action instead.
func (l *Lifecycle) HandleLoadError(description string) {
	if !l.active() {
		return
	}
	l.logger.Warn("Content failed to load", "error", description)
	l.loadFailed = true
	l.updateState()
	l.showAdvisory(advisory.Advisory{
		Kind:    advisory.KindError,
		Message: LoadErrorNotice,
		Action:  &advisory.Action{ID: advisory.ActionRetry, Label: "Retry"},
	})
}

// HandleProcessGone records a crash of the content process and reloads
// the composed address.
func (l *Lifecycle) HandleProcessGone() {
	if !l.active() {
		return
	}
	l.logger.Warn("Content process terminated, reloading", "url", l.address)
	l.loadFailed = true
	l.updateState()
	l.showAdvisory(advisory.Advisory{Kind: advisory.KindWarning, Message: ProcessGoneNotice})
	l.loader.Load(l.ctx, l.address)
}

// HandleLoadFinished clears a previous load failure once the content
// has loaded again.
func (l *Lifecycle) HandleLoadFinished() {
	if !l.active() || !l.loadFailed {
		return
	}
	l.loadFailed = false
	l.clearAdvisory()
	l.updateState()
	l.logger.Info("Content recovered", "state", l.state)
}

// Address is the current composed content address.
func (l *Lifecycle) Address() string { return l.address }

// Token is the device token currently held, or "".
func (l *Lifecycle) Token() string { return l.token }

func (l *Lifecycle) State() State { return l.state }

func (l *Lifecycle) Snapshot() Snapshot {
	return Snapshot{
		State:      l.state,
		Base:       l.base,
		Address:    l.address,
		HasToken:   l.token != "",
		AdvisoryID: l.advisoryID,
		Reason:     l.reason,
	}
}

// Close stops acquisition and unsubscribes from token refreshes. No
// callback takes effect after Close returns.
func (l *Lifecycle) Close() {
	if l.closed {
		return
	}
	l.closed = true
	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Lifecycle) handleTokenRefresh(ctx context.Context, tok string) {
	if l.closed {
		return
	}
	switch l.state {
	case StateConfigError:
		return
	case StateInitializing:
		if tok != "" {
			l.token = tok
		}
		return
	}

	if tok == l.token && l.skipSame {
		l.logger.Debug("Token refresh without change, not reloading")
		return
	}

	l.logger.Info("Device token refreshed", "token", util.RedactToken(tok))
	l.token = tok
	if tok != "" {
		l.tokenFailed = false
	}
	l.address = ComposeURL(l.base, l.token)
	l.updateState()
	l.loader.Load(ctx, l.address)
}

// acquire runs the bounded token retry loop off the event loop and
// posts done back onto it.
func (l *Lifecycle) acquire(ctx context.Context, done func(string, token.Outcome)) {
	if l.tokens == nil {
		done("", token.OutcomeFailed)
		return
	}

	attempts := l.retries + 1
	l.exec.Go(func() {
		var (
			tok     string
			outcome token.Outcome
		)
		for attempt := 1; ; attempt++ {
			tok, outcome = l.tokens.Fetch(ctx, false, attempt == 1)
			if outcome != token.OutcomeFailed {
				break
			}
			if attempt >= attempts {
				l.logger.Warn("Giving up on device token", "attempts", attempt)
				break
			}

			msg := fmt.Sprintf(TokenRetryNotice, attempt, attempts)
			l.exec.Post(func() {
				if !l.closed {
					l.showAdvisory(advisory.Advisory{Kind: advisory.KindWarning, Message: msg})
				}
			})

			select {
			case <-l.clock.After(l.retryDelay):
			case <-ctx.Done():
				return
			}
		}

		l.exec.Post(func() {
			if l.closed {
				return
			}
			if outcome == token.OutcomeFailed {
				l.showAdvisory(advisory.Advisory{Kind: advisory.KindWarning, Message: TokenFailedNotice})
			} else {
				l.clearAdvisory()
			}
			done(tok, outcome)
		})
	})
}

func (l *Lifecycle) enterConfigError(ctx context.Context, err error) {
	l.state = StateConfigError
	l.reason = err.Error()
	l.address = ""
	l.logger.Error("Content address misconfigured", "base", l.base, "error", err)

	l.showAdvisory(advisory.Advisory{
		Kind:    advisory.KindError,
		Title:   "Configuration error",
		Message: ConfigErrorNotice,
		Sticky:  true,
	})

	if l.alerter != nil {
		msg := fmt.Sprintf("Content address misconfigured (%q): %v", l.base, err)
		l.exec.Go(func() {
			if aerr := l.alerter.Alert(ctx, msg); aerr != nil {
				l.logger.Warn("Failed to alert operator", "error", aerr)
			}
		})
	}
}

func (l *Lifecycle) updateState() {
	switch {
	case l.loadFailed:
		l.state = StateDegraded
		l.reason = "content failed to load"
	case l.tokenFailed:
		l.state = StateDegraded
		l.reason = "device token unavailable"
	default:
		l.state = StateReady
		l.reason = ""
	}
}

func (l *Lifecycle) showAdvisory(a advisory.Advisory) {
	if l.advisoryID != "" {
		l.advisories.Hide(l.advisoryID)
	}
	l.advisoryID = l.advisories.Show(a)
}

func (l *Lifecycle) clearAdvisory() {
	if l.advisoryID != "" {
		l.advisories.Hide(l.advisoryID)
		l.advisoryID = ""
	}
}

func (l *Lifecycle) active() bool {
	return !l.closed && (l.state == StateReady || l.state == StateDegraded)
}
