package launcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"brandshell/service/advisory"
)

// fakeOpener resolves the schemes in installed and records what was
// opened. URLs with a prefix in failing return an error from Open.
type fakeOpener struct {
	installed map[string]bool
	failing   []string
	opened    []string
}

func (f *fakeOpener) CanOpen(_ context.Context, rawURL string) bool {
	scheme, _, _ := strings.Cut(rawURL, ":")
	return scheme == "http" || scheme == "https" || f.installed[scheme]
}

func (f *fakeOpener) Open(_ context.Context, rawURL string) error {
	for _, prefix := range f.failing {
		if strings.HasPrefix(rawURL, prefix) {
			return errors.New("refused")
		}
	}
	f.opened = append(f.opened, rawURL)
	return nil
}

func newLauncher(installed ...string) (*Launcher, *fakeOpener, *advisory.Registry) {
	opener := &fakeOpener{installed: map[string]bool{}}
	for _, s := range installed {
		opener.installed[s] = true
	}
	advisories := advisory.NewRegistry()
	return New(opener, advisories, nil), opener, advisories
}

func TestOpenWhatsApp(t *testing.T) {
	tests := []struct {
		name      string
		installed []string
		phone     string
		message   string
		want      string
	}{
		{"app", []string{"whatsapp"}, "+55 (21) 99999-0000", "Olá mundo", "whatsapp://send?phone=5521999990000&text=Ol%C3%A1+mundo"},
		{"app without message", []string{"whatsapp"}, "5521999990000", "", "whatsapp://send?phone=5521999990000"},
		{"web fallback", nil, "+1 555-0100", "hi", "https://wa.me/15550100?text=hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, opener, advisories := newLauncher(tt.installed...)
			if !l.OpenWhatsApp(context.Background(), tt.phone, tt.message) {
				t.Fatal("OpenWhatsApp returned false")
			}
			if len(opener.opened) != 1 || opener.opened[0] != tt.want {
				t.Fatalf("opened %v, want %s", opener.opened, tt.want)
			}
			if n := len(advisories.Active()); n != 0 {
				t.Fatalf("%d advisories shown on success", n)
			}
		})
	}
}

func TestOpenWhatsAppFailureShowsAdvisory(t *testing.T) {
	l, opener, advisories := newLauncher()
	opener.failing = []string{"https://wa.me/"}

	if l.OpenWhatsApp(context.Background(), "12345", "") {
		t.Fatal("OpenWhatsApp succeeded")
	}
	active := advisories.Active()
	if len(active) != 1 || active[0].Message != WhatsAppUnavailable {
		t.Fatalf("advisories = %+v", active)
	}
}

func TestOpenWhatsAppInvalidPhone(t *testing.T) {
	l, opener, advisories := newLauncher("whatsapp")
	if l.OpenWhatsApp(context.Background(), "call me", "") {
		t.Fatal("OpenWhatsApp succeeded without digits")
	}
	if len(opener.opened) != 0 {
		t.Fatalf("opened %v", opener.opened)
	}
	if active := advisories.Active(); len(active) != 1 || active[0].Message != InvalidPhone {
		t.Fatalf("advisories = %+v", active)
	}
}

func TestOpenSocial(t *testing.T) {
	tests := []struct {
		name      string
		installed []string
		platform  string
		username  string
		url       string
		want      string
	}{
		{"facebook app", []string{"fb"}, "facebook", "acme", "", "fb://profile/acme"},
		{"facebook web", nil, "facebook", "acme", "", "https://www.facebook.com/acme"},
		{"instagram app", []string{"instagram"}, "Instagram", "@acme", "", "instagram://user?username=acme"},
		{"instagram web", nil, "instagram", "acme", "", "https://www.instagram.com/acme"},
		{"twitter app", []string{"twitter"}, "twitter", "acme", "", "twitter://user?screen_name=acme"},
		{"x web", nil, "x", "acme", "", "https://x.com/acme"},
		{"linkedin web", nil, "linkedin", "acme", "", "https://www.linkedin.com/in/acme"},
		{"youtube app", []string{"youtube"}, "youtube", "acme", "", "youtube://www.youtube.com/@acme"},
		{"known platform url only", nil, "facebook", "", "https://www.facebook.com/pages/acme", "https://www.facebook.com/pages/acme"},
		{"unknown platform url", nil, "tiktok", "acme", "https://www.tiktok.com/@acme", "https://www.tiktok.com/@acme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, opener, _ := newLauncher(tt.installed...)
			if !l.OpenSocial(context.Background(), tt.platform, tt.username, tt.url) {
				t.Fatal("OpenSocial returned false")
			}
			if len(opener.opened) != 1 || opener.opened[0] != tt.want {
				t.Fatalf("opened %v, want %s", opener.opened, tt.want)
			}
		})
	}
}

func TestOpenSocialUnresolvable(t *testing.T) {
	l, opener, advisories := newLauncher()
	if l.OpenSocial(context.Background(), "tiktok", "acme", "") {
		t.Fatal("OpenSocial succeeded")
	}
	if len(opener.opened) != 0 {
		t.Fatalf("opened %v", opener.opened)
	}
	if active := advisories.Active(); len(active) != 1 || active[0].Message != SocialUnavailable {
		t.Fatalf("advisories = %+v", active)
	}
}

func TestOpenWaze(t *testing.T) {
	l, opener, advisories := newLauncher("waze")
	if !l.OpenWaze(context.Background(), "-22,9519", "-43.2105", "Cristo") {
		t.Fatal("OpenWaze returned false")
	}
	want := "waze://?ll=-22.9519,-43.2105&navigate=yes"
	if len(opener.opened) != 1 || opener.opened[0] != want {
		t.Fatalf("opened %v, want %s", opener.opened, want)
	}
	if n := len(advisories.Active()); n != 0 {
		t.Fatalf("%d advisories shown", n)
	}
}

func TestOpenWazeWebFallbackShowsInfo(t *testing.T) {
	l, opener, advisories := newLauncher()
	if !l.OpenWaze(context.Background(), "-22.9519", "-43.2105", "Cristo Redentor") {
		t.Fatal("OpenWaze returned false")
	}
	want := "https://www.waze.com/ul?ll=-22.9519%2C-43.2105&navigate=yes&q=Cristo+Redentor"
	if len(opener.opened) != 1 || opener.opened[0] != want {
		t.Fatalf("opened %v, want %s", opener.opened, want)
	}
	active := advisories.Active()
	if len(active) != 1 || active[0].Kind != advisory.KindInfo || active[0].Message != WazeFallback {
		t.Fatalf("advisories = %+v", active)
	}
}

func TestOpenWazeInvalidCoordinates(t *testing.T) {
	l, opener, advisories := newLauncher("waze")
	for _, c := range [][2]string{{"", "1"}, {"abc", "1"}, {"91", "0"}, {"0", "-181"}, {"NaN", "0"}} {
		if l.OpenWaze(context.Background(), c[0], c[1], "") {
			t.Fatalf("OpenWaze(%q, %q) succeeded", c[0], c[1])
		}
	}
	if len(opener.opened) != 0 {
		t.Fatalf("opened %v", opener.opened)
	}
	if active := advisories.Active(); len(active) != 1 || active[0].Message != InvalidLocation {
		t.Fatalf("advisories = %+v", active)
	}
}

func TestShowMap(t *testing.T) {
	l, opener, _ := newLauncher()
	if !l.ShowMap(context.Background(), -22.9519, -43.2105, "ABC1234") {
		t.Fatal("ShowMap returned false")
	}
	want := "https://www.openstreetmap.org/?mlat=-22.9519&mlon=-43.2105#map=16/-22.9519/-43.2105"
	if len(opener.opened) != 1 || opener.opened[0] != want {
		t.Fatalf("opened %v, want %s", opener.opened, want)
	}
}

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"-22.9519", -22.9519, true},
		{"-22,9519", -22.9519, true},
		{" 10 ", 10, true},
		{"1.234,5", 0, false},
		{"", 0, false},
		{"north", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseCoordinate(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("ParseCoordinate(%q) error = %v", tt.in, err)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("ParseCoordinate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBrowserOpenerCanOpen(t *testing.T) {
	o := NewBrowserOpener([]string{"whatsapp", "waze://", " FB: "})
	tests := []struct {
		url  string
		want bool
	}{
		{"https://wa.me/1", true},
		{"http://example.com", true},
		{"whatsapp://send?phone=1", true},
		{"waze://?ll=1,2", true},
		{"fb://profile/acme", true},
		{"instagram://user?username=acme", false},
		{"relative/path", false},
	}
	for _, tt := range tests {
		if got := o.CanOpen(context.Background(), tt.url); got != tt.want {
			t.Fatalf("CanOpen(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestBrowserOpenerOpen(t *testing.T) {
	o := NewBrowserOpener(nil)
	var opened []string
	o.open = func(u string) error {
		opened = append(opened, u)
		return nil
	}

	if err := o.Open(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := o.Open(context.Background(), "waze://?ll=1,2"); err == nil {
		t.Fatal("Open of an uninstalled scheme succeeded")
	}
	if len(opened) != 1 {
		t.Fatalf("opened %v", opened)
	}
}
