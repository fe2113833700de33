package chromehost

import (
	"context"
	"errors"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"brandshell/service/bridge"
	"brandshell/service/guard"
)

type recordingHandler struct {
	attempts   []bridge.NavigationAttempt
	messages   []string
	loadErrors []string
	loaded     int
	gone       int
}

func (h *recordingHandler) Navigation(a bridge.NavigationAttempt) guard.Decision {
	h.attempts = append(h.attempts, a)
	return guard.Evaluate(a.URL, guard.AllowList{"example.com"})
}

func (h *recordingHandler) Message(p []byte)   { h.messages = append(h.messages, string(p)) }
func (h *recordingHandler) LoadError(d string) { h.loadErrors = append(h.loadErrors, d) }
func (h *recordingHandler) Loaded()            { h.loaded++ }
func (h *recordingHandler) ProcessGone()       { h.gone++ }

const mainFrame cdp.FrameID = "MAIN"

func newTestHost(t *testing.T) (*Host, *recordingHandler) {
	t.Helper()
	handler := &recordingHandler{}
	h := newHost(context.Background(), handler, nil)
	h.mainFrame = mainFrame
	return h, handler
}

func TestBindingMessages(t *testing.T) {
	h, handler := newTestHost(t)

	h.onEvent(&runtime.EventBindingCalled{Name: "somethingElse", Payload: `{"type":"x"}`})
	h.onEvent(&runtime.EventBindingCalled{Name: bridge.BindingName, Payload: `{"type":"initialized"}`})
	h.onEvent(&runtime.EventBindingCalled{Name: bridge.BindingName, Payload: `{"type":"windowOpen"}`})

	if len(handler.messages) != 2 || handler.messages[0] != `{"type":"initialized"}` {
		t.Fatalf("messages = %q", handler.messages)
	}
}

func TestMainFrameLoadFailures(t *testing.T) {
	tests := []struct {
		name    string
		frame   cdp.FrameID
		typ     network.ResourceType
		failure network.EventLoadingFailed
		report  bool
	}{
		{"dns failure", mainFrame, network.ResourceTypeDocument, network.EventLoadingFailed{ErrorText: "net::ERR_NAME_NOT_RESOLVED"}, true},
		{"cancelled", mainFrame, network.ResourceTypeDocument, network.EventLoadingFailed{ErrorText: "net::ERR_ABORTED", Canceled: true}, false},
		{"blocked by shell", mainFrame, network.ResourceTypeDocument, network.EventLoadingFailed{ErrorText: "net::ERR_BLOCKED_BY_CLIENT"}, false},
		{"blocked reason", mainFrame, network.ResourceTypeDocument, network.EventLoadingFailed{ErrorText: "net::ERR_FAILED", BlockedReason: network.BlockedReasonOther}, false},
		{"subframe", "CHILD", network.ResourceTypeDocument, network.EventLoadingFailed{ErrorText: "net::ERR_NAME_NOT_RESOLVED"}, false},
		{"image", mainFrame, network.ResourceTypeImage, network.EventLoadingFailed{ErrorText: "net::ERR_NAME_NOT_RESOLVED"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, handler := newTestHost(t)
			h.onEvent(&network.EventRequestWillBeSent{RequestID: "1", Type: tt.typ, FrameID: tt.frame})
			failure := tt.failure
			failure.RequestID = "1"
			h.onEvent(&failure)

			if got := len(handler.loadErrors) == 1; got != tt.report {
				t.Fatalf("reported = %v, want %v (%q)", got, tt.report, handler.loadErrors)
			}
			if len(h.documents) != 0 {
				t.Fatalf("request still tracked")
			}
		})
	}
}

func TestFinishedDocumentIsForgotten(t *testing.T) {
	h, handler := newTestHost(t)
	h.onEvent(&network.EventRequestWillBeSent{RequestID: "7", Type: network.ResourceTypeDocument, FrameID: mainFrame})
	h.onEvent(&network.EventLoadingFinished{RequestID: "7"})
	h.onEvent(&network.EventLoadingFailed{RequestID: "7", ErrorText: "net::ERR_CONNECTION_RESET"})

	if len(handler.loadErrors) != 0 {
		t.Fatalf("late failure reported: %q", handler.loadErrors)
	}
}

func TestLifecycleEvents(t *testing.T) {
	h, handler := newTestHost(t)
	h.onEvent(&page.EventLoadEventFired{})
	h.onEvent(&inspector.EventTargetCrashed{})

	if handler.loaded != 1 || handler.gone != 1 {
		t.Fatalf("loaded=%d gone=%d", handler.loaded, handler.gone)
	}
}

func TestErrorPageLoadIsNotSuccess(t *testing.T) {
	h, handler := newTestHost(t)

	h.onEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: mainFrame, URL: "chrome-error://chromewebdata/"}})
	h.onEvent(&page.EventLoadEventFired{})
	if handler.loaded != 0 {
		t.Fatal("error page reported as loaded")
	}

	h.onEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: mainFrame, URL: "https://m.example.com/app"}})
	h.onEvent(&page.EventLoadEventFired{})
	if handler.loaded != 1 {
		t.Fatalf("loaded = %d, want 1", handler.loaded)
	}
}

func TestMainFrameNavigationRefreshesHistory(t *testing.T) {
	h, _ := newTestHost(t)

	h.onEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "CHILD", ParentID: mainFrame}})
	if len(h.cmds) != 0 {
		t.Fatalf("subframe navigation queued %d commands", len(h.cmds))
	}

	h.onEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: mainFrame}})
	h.onEvent(&page.EventNavigatedWithinDocument{FrameID: mainFrame})
	if len(h.cmds) != 2 {
		t.Fatalf("queued %d commands, want 2", len(h.cmds))
	}
	if cmd := <-h.cmds; cmd.name != "history" {
		t.Fatalf("command = %q", cmd.name)
	}
}

func TestGoBack(t *testing.T) {
	h, _ := newTestHost(t)

	if h.CanGoBack() {
		t.Fatal("empty history can go back")
	}
	if err := h.GoBack(context.Background()); !errors.Is(err, errNoHistory) {
		t.Fatalf("GoBack() = %v, want errNoHistory", err)
	}

	h.history = []*page.NavigationEntry{{ID: 10, URL: "https://m.example.com/app"}, {ID: 11, URL: "https://m.example.com/app/orders"}}
	h.historyIndex = 1

	if !h.CanGoBack() {
		t.Fatal("CanGoBack() = false with a previous entry")
	}
	if err := h.GoBack(context.Background()); err != nil {
		t.Fatalf("GoBack() = %v", err)
	}
	if cmd := <-h.cmds; cmd.name != "back" {
		t.Fatalf("command = %q", cmd.name)
	}
}

func TestCommandsQueueInOrder(t *testing.T) {
	h, _ := newTestHost(t)
	ctx := context.Background()

	_ = h.StopLoading(ctx)
	_ = h.Load(ctx, "https://m.example.com/app?device=abc123")
	_ = h.Reload(ctx)

	var names []string
	for len(h.cmds) > 0 {
		names = append(names, (<-h.cmds).name)
	}
	want := []string{"stop", "load", "reload"}
	if len(names) != len(want) {
		t.Fatalf("commands = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("commands = %v, want %v", names, want)
		}
	}
}

func TestClosedHostRejectsCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHost(ctx, &recordingHandler{}, nil)
	h.tabCancel = cancel
	go h.work()

	h.Close()
	h.Close()

	if err := h.Load(context.Background(), "https://m.example.com"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Load() after Close = %v", err)
	}
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestStartRequiresHandler(t *testing.T) {
	if _, err := Start(Options{}); err == nil {
		t.Fatal("Start() without handler succeeded")
	}
}

func TestBlockedNavigationIsAbortedBeforeCommit(t *testing.T) {
	h, handler := newTestHost(t)
	h.history = []*page.NavigationEntry{{ID: 1, URL: "https://m.example.com/a"}, {ID: 2, URL: "https://m.example.com/b"}}
	h.historyIndex = 1

	paused := func(id fetch.RequestID, frame cdp.FrameID, typ network.ResourceType, url, fragment string) *fetch.EventRequestPaused {
		return &fetch.EventRequestPaused{
			RequestID:    id,
			FrameID:      frame,
			ResourceType: typ,
			Request:      &network.Request{URL: url, URLFragment: fragment},
		}
	}

	action := h.decide(paused("1", mainFrame, network.ResourceTypeDocument, "https://evil.com/phish", "#%zz"))
	fail, ok := action.(*fetch.FailRequestParams)
	if !ok {
		t.Fatalf("blocked navigation resolved with %T, want fail", action)
	}
	if fail.RequestID != "1" || fail.ErrorReason != network.ErrorReasonAborted {
		t.Fatalf("fail = %+v, want request 1 aborted", fail)
	}
	if len(handler.attempts) != 1 {
		t.Fatalf("attempts = %+v", handler.attempts)
	}
	got := handler.attempts[0]
	if got.URL != "https://evil.com/phish#%zz" || !got.CanGoBack || !got.Pending {
		t.Fatalf("attempt = %+v", got)
	}

	if _, ok := h.decide(paused("2", mainFrame, network.ResourceTypeDocument, "https://m.example.com/c", "")).(*fetch.ContinueRequestParams); !ok {
		t.Fatal("allowed navigation was not continued")
	}
	if _, ok := h.decide(paused("3", "CHILD", network.ResourceTypeDocument, "https://evil.com/", "")).(*fetch.ContinueRequestParams); !ok {
		t.Fatal("subframe document was not continued")
	}
	if _, ok := h.decide(paused("4", mainFrame, network.ResourceTypeScript, "https://evil.com/x.js", "")).(*fetch.ContinueRequestParams); !ok {
		t.Fatal("subresource was not continued")
	}
	if len(handler.attempts) != 2 {
		t.Fatalf("only main-frame documents should be offered, got %d attempts", len(handler.attempts))
	}
}
