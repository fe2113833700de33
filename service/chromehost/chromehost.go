// Package chromehost displays the branded content in a Chrome window
// driven over the DevTools protocol. It is the desktop implementation of
// the bridge's content host: document navigations in the main frame are
// paused and offered to a Handler before they are allowed to proceed.
package chromehost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"brandshell/service/bridge"
	"brandshell/service/guard"
	"brandshell/service/util"
)

const errorPagePrefix = "chrome-error:"

var (
	ErrClosed    = errors.New("content host is closed")
	errNoHistory = errors.New("no previous history entry")
)

// Handler receives content events. Navigation blocks the paused request
// until it returns; the other methods are called from the protocol
// reader and must not block.
type Handler interface {
	Navigation(attempt bridge.NavigationAttempt) guard.Decision
	Message(payload []byte)
	LoadError(description string)
	Loaded()
	ProcessGone()
}

type Options struct {
	ExecPath   string
	RemoteURL  string
	ProfileDir string
	Headless   bool
	Width      int
	Height     int

	Handler      Handler
	Logger       *slog.Logger
	StartTimeout time.Duration
}

type command struct {
	name   string
	action chromedp.Action
}

type Host struct {
	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	handler     Handler
	logger      *slog.Logger
	mainFrame   cdp.FrameID

	cmds chan command
	done chan struct{}

	mu           sync.Mutex
	closed       bool
	documents    map[network.RequestID]struct{}
	historyIndex int64
	history      []*page.NavigationEntry
	frameURL     string
}

func newHost(ctx context.Context, handler Handler, logger *slog.Logger) *Host {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Host{
		ctx:       ctx,
		handler:   handler,
		logger:    logger,
		cmds:      make(chan command, 32),
		done:      make(chan struct{}),
		documents: make(map[network.RequestID]struct{}),
	}
}

// Start launches or attaches to Chrome, opens one tab and installs the
// capability script and message binding. The returned Host is idle until
// the first Load.
func Start(opts Options) (*Host, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("content host needs a handler")
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}

	allocCtx, allocCancel, err := allocator(opts)
	if err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	h := newHost(tabCtx, opts.Handler, opts.Logger)
	h.tabCancel = tabCancel
	h.allocCancel = allocCancel

	if err := h.boot(opts.StartTimeout); err != nil {
		tabCancel()
		allocCancel()
		return nil, util.LogError(h.logger, "Failed to start content host", err)
	}

	go h.work()

	h.logger.Info("Content host started", "headless", opts.Headless, "remote", opts.RemoteURL != "")
	return h, nil
}

func allocator(opts Options) (context.Context, context.CancelFunc, error) {
	if opts.RemoteURL != "" {
		ctx, cancel := chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
		return ctx, cancel, nil
	}

	if opts.ProfileDir != "" {
		if err := os.MkdirAll(opts.ProfileDir, 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create profile directory: %w", err)
		}
	}

	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width, height = 412, 915
	}

	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-session-crashed-bubble", true),
		chromedp.Flag("hide-crash-restore-bubble", true),
		chromedp.WindowSize(width, height),
	}
	if opts.ProfileDir != "" {
		execOpts = append(execOpts, chromedp.UserDataDir(opts.ProfileDir))
	}
	if opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.Headless {
		execOpts = append(execOpts, chromedp.Headless)
	} else {
		execOpts = append(execOpts, chromedp.Flag("headless", false), chromedp.Flag("app", "about:blank"))
	}

	ctx, cancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	return ctx, cancel, nil
}

func (h *Host) boot(timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		// The first Run allocates the tab so its frame id is known before
		// any event is interpreted.
		if err := chromedp.Run(h.ctx); err != nil {
			errCh <- err
			return
		}
		h.mainFrame = cdp.FrameID(chromedp.FromContext(h.ctx).Target.TargetID)
		chromedp.ListenTarget(h.ctx, h.onEvent)

		errCh <- chromedp.Run(h.ctx,
			network.Enable(),
			page.Enable(),
			runtime.Enable(),
			inspector.Enable(),
			runtime.AddBinding(bridge.BindingName),
			chromedp.ActionFunc(func(ctx context.Context) error {
				_, err := page.AddScriptToEvaluateOnNewDocument(bridge.Script()).Do(ctx)
				return err
			}),
			fetch.Enable().WithPatterns([]*fetch.RequestPattern{{
				URLPattern:   "*",
				ResourceType: network.ResourceTypeDocument,
				RequestStage: fetch.RequestStageRequest,
			}}),
		)
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %s", timeout)
	}
}

func (h *Host) work() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case cmd := <-h.cmds:
			if err := chromedp.Run(h.ctx, cmd.action); err != nil && h.ctx.Err() == nil {
				h.logger.Debug("Content host command failed", "command", cmd.name, "error", err)
			}
		}
	}
}

func (h *Host) enqueue(name string, action chromedp.Action) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	select {
	case h.cmds <- command{name: name, action: action}:
		return nil
	default:
		return fmt.Errorf("content host is busy, dropped %s", name)
	}
}

// Load starts navigating the main frame to url. Failures are reported
// through Handler.LoadError, not the returned error.
func (h *Host) Load(_ context.Context, url string) error {
	return h.enqueue("load", chromedp.ActionFunc(func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return fmt.Errorf("navigation to %s failed: %s", url, res.ErrorText)
		}
		return nil
	}))
}

func (h *Host) Reload(context.Context) error {
	return h.enqueue("reload", page.Reload())
}

func (h *Host) StopLoading(context.Context) error {
	return h.enqueue("stop", page.StopLoading())
}

// GoBack returns to the previous committed history entry.
func (h *Host) GoBack(context.Context) error {
	h.mu.Lock()
	idx, entries := h.historyIndex, h.history
	h.mu.Unlock()

	if idx <= 0 || int(idx) >= len(entries) {
		return errNoHistory
	}
	return h.enqueue("back", page.NavigateToHistoryEntry(entries[idx-1].ID))
}

func (h *Host) CanGoBack() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.historyIndex > 0 && int(h.historyIndex) < len(h.history)
}

// Done is closed when the browser tab goes away, including when the user
// closes the window.
func (h *Host) Done() <-chan struct{} {
	return h.ctx.Done()
}

func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	if h.tabCancel != nil {
		h.tabCancel()
	}
	if h.allocCancel != nil {
		h.allocCancel()
	}
	<-h.done
}

func (h *Host) onEvent(ev any) {
	switch ev := ev.(type) {
	case *fetch.EventRequestPaused:
		go h.resolve(ev)

	case *runtime.EventBindingCalled:
		if ev.Name == bridge.BindingName {
			h.handler.Message([]byte(ev.Payload))
		}

	case *network.EventRequestWillBeSent:
		if ev.Type == network.ResourceTypeDocument && ev.FrameID == h.mainFrame {
			h.mu.Lock()
			h.documents[ev.RequestID] = struct{}{}
			h.mu.Unlock()
		}

	case *network.EventLoadingFinished:
		h.forget(ev.RequestID)

	case *network.EventLoadingFailed:
		if !h.forget(ev.RequestID) {
			return
		}
		if ignorableFailure(ev) {
			h.logger.Debug("Document load interrupted", "reason", ev.ErrorText)
			return
		}
		h.handler.LoadError(ev.ErrorText)

	case *page.EventFrameNavigated:
		if ev.Frame != nil && ev.Frame.ParentID == "" {
			h.mu.Lock()
			h.frameURL = ev.Frame.URL
			h.mu.Unlock()
			h.refreshHistory()
		}

	case *page.EventNavigatedWithinDocument:
		if ev.FrameID == h.mainFrame {
			h.refreshHistory()
		}

	case *page.EventLoadEventFired:
		h.mu.Lock()
		errorPage := strings.HasPrefix(h.frameURL, errorPagePrefix)
		h.mu.Unlock()
		// Chrome fires load for its own error page after a failure.
		if !errorPage {
			h.handler.Loaded()
		}

	case *inspector.EventTargetCrashed:
		h.logger.Warn("Content process crashed")
		h.handler.ProcessGone()
	}
}

// resolve lets a paused request continue, or fails it when the handler
// blocks the navigation.
func (h *Host) resolve(ev *fetch.EventRequestPaused) {
	if err := chromedp.Run(h.ctx, h.decide(ev)); err != nil && h.ctx.Err() == nil {
		h.logger.Debug("Failed to resolve paused request", "error", err)
	}
}

// decide asks the handler about main-frame documents. The request has not
// committed yet, so a blocked one is aborted, which keeps the current page
// and adds neither an error page nor a history entry.
func (h *Host) decide(ev *fetch.EventRequestPaused) chromedp.Action {
	if ev.ResourceType != network.ResourceTypeDocument || ev.FrameID != h.mainFrame || ev.Request == nil {
		return fetch.ContinueRequest(ev.RequestID)
	}
	attempt := bridge.NavigationAttempt{
		URL:       ev.Request.URL + ev.Request.URLFragment,
		CanGoBack: h.CanGoBack(),
		Pending:   true,
	}
	if h.handler.Navigation(attempt) == guard.Block {
		return fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted)
	}
	return fetch.ContinueRequest(ev.RequestID)
}

func (h *Host) refreshHistory() {
	err := h.enqueue("history", chromedp.ActionFunc(func(ctx context.Context) error {
		idx, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.historyIndex, h.history = idx, entries
		h.mu.Unlock()
		return nil
	}))
	if err != nil {
		h.logger.Debug("Skipped history refresh", "error", err)
	}
}

func (h *Host) forget(id network.RequestID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.documents[id]; !ok {
		return false
	}
	delete(h.documents, id)
	return true
}

// ignorableFailure reports failures caused by the shell itself or by a
// newer navigation replacing the request.
func ignorableFailure(ev *network.EventLoadingFailed) bool {
	if ev.Canceled || ev.BlockedReason != "" {
		return true
	}
	return strings.Contains(ev.ErrorText, "ERR_ABORTED") ||
		strings.Contains(ev.ErrorText, "ERR_BLOCKED_BY_CLIENT")
}
