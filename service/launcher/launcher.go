// Package launcher opens third-party apps (WhatsApp, social networks,
// Waze) on behalf of hosted content, falling back to their web
// equivalents when the app is not installed.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"brandshell/service/advisory"
	"brandshell/service/util"
)

const (
	WhatsAppUnavailable = "Could not open WhatsApp."
	InvalidPhone        = "Invalid phone number."
	SocialUnavailable   = "Could not open the profile."
	WazeFallback        = "Waze is not installed. Opening the web map."
	WazeUnavailable     = "Could not open navigation."
	InvalidLocation     = "Invalid location."
	MapUnavailable      = "Could not open the map."
)

type Launcher struct {
	opener     Opener
	advisories *advisory.Registry
	logger     *slog.Logger
}

func New(opener Opener, advisories *advisory.Registry, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Launcher{opener: opener, advisories: advisories, logger: logger}
}

// OpenWhatsApp starts a chat with phone. Non-digit characters are
// stripped from the number.
func (l *Launcher) OpenWhatsApp(ctx context.Context, phone, message string) bool {
	digits := digitsOnly(phone)
	if digits == "" {
		l.logger.Warn("WhatsApp launch without a usable phone number", "phone", phone)
		l.notify(advisory.KindError, InvalidPhone)
		return false
	}

	app := "whatsapp://send?phone=" + digits
	web := "https://wa.me/" + digits
	if message != "" {
		app += "&text=" + url.QueryEscape(message)
		web += "?text=" + url.QueryEscape(message)
	}

	if l.tryApp(ctx, app) || l.tryWeb(ctx, web) {
		return true
	}
	l.notify(advisory.KindError, WhatsAppUnavailable)
	return false
}

type socialPlatform struct {
	app func(username string) string
	web func(username string) string
}

var socialPlatforms = map[string]socialPlatform{
	"facebook": {
		app: func(u string) string { return "fb://profile/" + url.PathEscape(u) },
		web: func(u string) string { return "https://www.facebook.com/" + url.PathEscape(u) },
	},
	"instagram": {
		app: func(u string) string { return "instagram://user?username=" + url.QueryEscape(u) },
		web: func(u string) string { return "https://www.instagram.com/" + url.PathEscape(u) },
	},
	"twitter": {
		app: func(u string) string { return "twitter://user?screen_name=" + url.QueryEscape(u) },
		web: func(u string) string { return "https://x.com/" + url.PathEscape(u) },
	},
	"linkedin": {
		app: func(u string) string { return "linkedin://in/" + url.PathEscape(u) },
		web: func(u string) string { return "https://www.linkedin.com/in/" + url.PathEscape(u) },
	},
	"youtube": {
		app: func(u string) string { return "youtube://www.youtube.com/@" + url.PathEscape(u) },
		web: func(u string) string { return "https://www.youtube.com/@" + url.PathEscape(u) },
	},
}

func init() {
	socialPlatforms["x"] = socialPlatforms["twitter"]
}

// KnownSocialPlatform reports whether platform has a built-in deep link.
func KnownSocialPlatform(platform string) bool {
	_, ok := socialPlatforms[strings.ToLower(strings.TrimSpace(platform))]
	return ok
}

// OpenSocial opens a profile on a social network. With a username on a
// known platform the app is tried first, then the platform's web
// profile, then rawURL. Otherwise rawURL is opened as given.
func (l *Launcher) OpenSocial(ctx context.Context, platform, username, rawURL string) bool {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	p, known := socialPlatforms[strings.ToLower(strings.TrimSpace(platform))]

	if known && username != "" {
		if l.tryApp(ctx, p.app(username)) || l.tryWeb(ctx, p.web(username)) {
			return true
		}
	}
	if rawURL != "" && l.tryWeb(ctx, rawURL) {
		return true
	}

	l.logger.Warn("Social profile could not be opened", "platform", platform, "username", username, "url", rawURL)
	l.notify(advisory.KindError, SocialUnavailable)
	return false
}

// OpenWaze starts turn-by-turn navigation to lat,lng. Coordinates may
// use a comma as the decimal separator.
func (l *Launcher) OpenWaze(ctx context.Context, lat, lng, name string) bool {
	latitude, lerr := ParseCoordinate(lat)
	longitude, gerr := ParseCoordinate(lng)
	if lerr != nil || gerr != nil || !ValidLatLng(latitude, longitude) {
		l.logger.Warn("Waze launch with invalid coordinates", "lat", lat, "lng", lng)
		l.notify(advisory.KindError, InvalidLocation)
		return false
	}

	ll := formatCoordinate(latitude) + "," + formatCoordinate(longitude)
	if l.tryApp(ctx, "waze://?ll="+ll+"&navigate=yes") {
		return true
	}

	web := "https://www.waze.com/ul?ll=" + url.QueryEscape(ll) + "&navigate=yes"
	if name != "" {
		web += "&q=" + url.QueryEscape(name)
	}
	if l.tryWeb(ctx, web) {
		l.notify(advisory.KindInfo, WazeFallback)
		return true
	}
	l.notify(advisory.KindError, WazeUnavailable)
	return false
}

// ShowMap opens a web map centred on lat,lng. It is the desktop
// stand-in for the native map screen.
func (l *Launcher) ShowMap(ctx context.Context, lat, lng float64, label string) bool {
	if !ValidLatLng(lat, lng) {
		l.notify(advisory.KindError, InvalidLocation)
		return false
	}
	la, lo := formatCoordinate(lat), formatCoordinate(lng)
	u := fmt.Sprintf("https://www.openstreetmap.org/?mlat=%s&mlon=%s#map=16/%s/%s", la, lo, la, lo)
	if l.tryWeb(ctx, u) {
		l.logger.Debug("Opened map", "lat", la, "lng", lo, "label", label)
		return true
	}
	l.notify(advisory.KindError, MapUnavailable)
	return false
}

func (l *Launcher) tryApp(ctx context.Context, link string) bool {
	if !l.opener.CanOpen(ctx, link) {
		l.logger.Debug("App link not resolvable", "url", link)
		return false
	}
	return l.open(ctx, link)
}

func (l *Launcher) tryWeb(ctx context.Context, link string) bool {
	return l.open(ctx, link)
}

func (l *Launcher) open(ctx context.Context, link string) bool {
	if err := l.opener.Open(ctx, link); err != nil {
		l.logger.Warn("Failed to open external URL", "url", link, "error", err)
		return false
	}
	l.logger.Info("Opened external URL", "url", link)
	return true
}

func (l *Launcher) notify(kind advisory.Kind, message string) {
	if l.advisories != nil {
		l.advisories.Show(advisory.Advisory{Kind: kind, Message: message})
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseCoordinate parses a decimal degree value written with either a
// dot or a comma as the decimal separator.
func ParseCoordinate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty coordinate")
	}
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid coordinate %q: %w", s, err)
	}
	return v, nil
}

func ValidLatLng(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
