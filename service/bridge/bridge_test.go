package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"brandshell/service/advisory"
	"brandshell/service/guard"
)

type fakeHost struct {
	calls     []string
	goBackErr error
}

func (h *fakeHost) Load(_ context.Context, url string) error {
	h.calls = append(h.calls, "load "+url)
	return nil
}

func (h *fakeHost) Reload(context.Context) error {
	h.calls = append(h.calls, "reload")
	return nil
}

func (h *fakeHost) StopLoading(context.Context) error {
	h.calls = append(h.calls, "stop")
	return nil
}

func (h *fakeHost) GoBack(context.Context) error {
	h.calls = append(h.calls, "back")
	return h.goBackErr
}

type fakeLaunchers struct {
	calls []string
}

func (f *fakeLaunchers) OpenWhatsApp(_ context.Context, phone, message string) bool {
	f.calls = append(f.calls, "whatsapp "+phone+" "+message)
	return true
}

func (f *fakeLaunchers) OpenSocial(_ context.Context, platform, username, rawURL string) bool {
	f.calls = append(f.calls, "social "+platform+" "+username+" "+rawURL)
	return true
}

func (f *fakeLaunchers) OpenWaze(_ context.Context, lat, lng, name string) bool {
	f.calls = append(f.calls, "waze "+lat+" "+lng+" "+name)
	return true
}

const composed = "https://m.example.com/app?device=abc123"

func newBridge(t *testing.T) (*Bridge, *fakeHost, *fakeLaunchers, *advisory.Registry) {
	t.Helper()
	list, err := guard.Derive("https://m.example.com/app", nil)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	host := &fakeHost{}
	launchers := &fakeLaunchers{}
	advisories := advisory.NewRegistry()
	b := New(Options{
		Host:       host,
		AllowList:  list,
		Address:    AddressFunc(func() string { return composed }),
		Launchers:  launchers,
		Advisories: advisories,
	})
	return b, host, launchers, advisories
}

func assertCalls(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("host calls = %q, want %q", got, want)
	}
}

func assertBlockedNotice(t *testing.T, advisories *advisory.Registry) {
	t.Helper()
	active := advisories.Active()
	if len(active) != 1 || active[0].Message != BlockedNotice || active[0].Kind != advisory.KindWarning {
		t.Fatalf("advisories = %+v", active)
	}
}

func TestBlockedNavigationWithoutHistoryRestoresAddress(t *testing.T) {
	b, host, _, advisories := newBridge(t)
	ctx := context.Background()

	b.Load(ctx, composed)
	if got := b.HandleNavigation(ctx, NavigationAttempt{URL: composed}); got != guard.Allow {
		t.Fatalf("initial navigation = %s", got)
	}

	if got := b.HandleNavigation(ctx, NavigationAttempt{URL: "https://evil.com"}); got != guard.Block {
		t.Fatalf("evil.com = %s", got)
	}
	assertCalls(t, host.calls, "load "+composed, "stop", "load "+composed)
	assertBlockedNotice(t, advisories)
	if b.Current() != composed {
		t.Fatalf("Current() = %q", b.Current())
	}
}

func TestBlockedNavigationGoesBack(t *testing.T) {
	b, host, _, advisories := newBridge(t)
	ctx := context.Background()

	b.HandleNavigation(ctx, NavigationAttempt{URL: "https://evil.com/phish", CanGoBack: true})
	assertCalls(t, host.calls, "stop", "back")
	assertBlockedNotice(t, advisories)
}

func TestBlockedNavigationFallsBackToLoadWhenGoBackFails(t *testing.T) {
	b, host, _, _ := newBridge(t)
	host.goBackErr = errors.New("no entry")

	b.HandleNavigation(context.Background(), NavigationAttempt{URL: "https://evil.com", CanGoBack: true})
	assertCalls(t, host.calls, "stop", "back", "load "+composed)
}

func TestBlockedPendingNavigationKeepsCurrentPage(t *testing.T) {
	b, host, _, advisories := newBridge(t)
	ctx := context.Background()
	b.HandleNavigation(ctx, NavigationAttempt{URL: "https://m.example.com/b", CanGoBack: true})

	got := b.HandleNavigation(ctx, NavigationAttempt{URL: "https://evil.com/phish", CanGoBack: true, Pending: true})
	if got != guard.Block {
		t.Fatalf("evil.com = %s", got)
	}
	assertCalls(t, host.calls, "stop")
	assertBlockedNotice(t, advisories)
	if b.Current() != "https://m.example.com/b" {
		t.Fatalf("Current() = %q", b.Current())
	}
}

func TestAllowedNavigationIsUntouched(t *testing.T) {
	b, host, _, advisories := newBridge(t)
	if got := b.HandleNavigation(context.Background(), NavigationAttempt{URL: "https://shop.example.com/cart", CanGoBack: true}); got != guard.Allow {
		t.Fatalf("got %s", got)
	}
	assertCalls(t, host.calls)
	if len(advisories.Active()) != 0 {
		t.Fatal("advisory shown for an allowed navigation")
	}
	if !b.CanGoBack() {
		t.Fatal("CanGoBack not tracked")
	}
}

func TestWindowOpenIsAlwaysBlocked(t *testing.T) {
	b, host, _, advisories := newBridge(t)
	ctx := context.Background()
	b.HandleNavigation(ctx, NavigationAttempt{URL: composed})

	// Same-domain new windows are refused too.
	b.HandleMessage(ctx, []byte(`{"type":"windowOpen","url":"https://m.example.com/other"}`))
	assertCalls(t, host.calls, "stop", "load "+composed)
	assertBlockedNotice(t, advisories)
}

func TestHandleBack(t *testing.T) {
	b, host, _, _ := newBridge(t)
	ctx := context.Background()

	if b.HandleBack(ctx) {
		t.Fatal("HandleBack consumed without history")
	}
	b.HandleNavigation(ctx, NavigationAttempt{URL: "https://m.example.com/a", CanGoBack: true})
	if !b.HandleBack(ctx) {
		t.Fatal("HandleBack did not consume with history")
	}
	assertCalls(t, host.calls, "back")
}

func TestHandleMessageAppEvents(t *testing.T) {
	b, _, launchers, _ := newBridge(t)
	ctx := context.Background()

	for _, raw := range []string{
		`{"type":"appEvent","data":{"action":"openWhatsApp","params":{"phone":"+55 21 99999","message":"oi"}}}`,
		`{"type":"appEvent","data":{"action":"openWhatsApp","params":{"phone":5521999990000}}}`,
		`{"type":"appEvent","data":{"action":"openSocial","params":{"type":"instagram","username":"acme"}}}`,
		`{"type":"appEvent","data":{"action":"openWaze","params":{"lat":-22.9519,"lng":"-43,2105","name":"Cristo"}}}`,
	} {
		b.HandleMessage(ctx, []byte(raw))
	}

	want := []string{
		"whatsapp +55 21 99999 oi",
		"whatsapp 5521999990000 ",
		"social instagram acme ",
		"waze -22.9519 -43,2105 Cristo",
	}
	if strings.Join(launchers.calls, "|") != strings.Join(want, "|") {
		t.Fatalf("launcher calls = %q, want %q", launchers.calls, want)
	}
}

func TestHandleMessageToleratesGarbage(t *testing.T) {
	b, host, launchers, advisories := newBridge(t)
	ctx := context.Background()

	for _, raw := range []string{
		``,
		`not json`,
		`[]`,
		`{"type":"somethingNew","payload":1}`,
		`{"type":"appEvent"}`,
		`{"type":"appEvent","data":"oops"}`,
		`{"type":"appEvent","data":{"action":"openTelegram","params":{}}}`,
		`{"type":"appEvent","data":{"action":"openWaze","params":{"lat":{"x":1}}}}`,
	} {
		b.HandleMessage(ctx, []byte(raw))
	}
	if len(launchers.calls) != 0 || len(host.calls) != 0 || len(advisories.Active()) != 0 {
		t.Fatalf("garbage produced effects: launchers=%v host=%v", launchers.calls, host.calls)
	}
}

func TestHandleMessageInitialized(t *testing.T) {
	b, host, _, _ := newBridge(t)
	b.HandleMessage(context.Background(), []byte(`{"type":"initialized","userAgent":"Mozilla/5.0 test"}`))
	if b.UserAgent() != "Mozilla/5.0 test" {
		t.Fatalf("UserAgent() = %q", b.UserAgent())
	}
	assertCalls(t, host.calls)
}

func TestClosedBridgeIgnoresEvents(t *testing.T) {
	b, host, launchers, _ := newBridge(t)
	b.Close()
	ctx := context.Background()

	b.HandleNavigation(ctx, NavigationAttempt{URL: "https://evil.com"})
	b.HandleMessage(ctx, []byte(`{"type":"appEvent","data":{"action":"openSocial","params":{"type":"x","username":"a"}}}`))
	b.Load(ctx, composed)
	assertCalls(t, host.calls)
	if len(launchers.calls) != 0 {
		t.Fatalf("launcher calls after Close: %v", launchers.calls)
	}
}

func TestScriptDefinesCapabilitySurface(t *testing.T) {
	s := Script()
	for _, want := range []string{
		"window.MobileApp",
		"openWhatsApp",
		"openSocial",
		"openWaze",
		"window.open",
		"'" + MessageInitialized + "'",
		"'" + MessageWindowOpen + "'",
		"'" + MessageAppEvent + "'",
		BindingName,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("capability script is missing %q", want)
		}
	}
}
