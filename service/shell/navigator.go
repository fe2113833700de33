package shell

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"brandshell/service/launcher"
	"brandshell/service/notification"
)

// Navigate implements notification.Navigator. Map targets open the map
// view; screen targets load the route inside the content.
func (s *Shell) Navigate(ctx context.Context, target notification.Target) error {
	if target.Pathname == notification.MapPathname {
		return s.showMap(ctx, target.Params)
	}

	addr, err := ScreenURL(s.cfg.Brand.ContentURL, s.lifecycle.Token(), target)
	if err != nil {
		return err
	}
	s.logger.Info("Opening notification screen", "route", target.Pathname)
	s.bridge.Load(ctx, addr)
	return nil
}

func (s *Shell) showMap(ctx context.Context, params map[string]string) error {
	lat, err := launcher.ParseCoordinate(params["latitude"])
	if err != nil {
		return fmt.Errorf("invalid latitude: %w", err)
	}
	lng, err := launcher.ParseCoordinate(params["longitude"])
	if err != nil {
		return fmt.Errorf("invalid longitude: %w", err)
	}
	if !launcher.ValidLatLng(lat, lng) {
		return fmt.Errorf("coordinates out of range: %v,%v", lat, lng)
	}
	if !s.launcher.ShowMap(ctx, lat, lng, params["title"]) {
		return fmt.Errorf("map view unavailable")
	}
	return nil
}

// ScreenURL resolves a notification route below the content base and
// carries the target params and device token in the query. Routes may
// not leave the base origin.
func ScreenURL(base, token string, target notification.Target) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid content address: %w", err)
	}
	ref, err := url.Parse(strings.TrimLeft(target.Pathname, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid route %q: %w", target.Pathname, err)
	}
	if ref.Scheme != "" || ref.Host != "" {
		return "", fmt.Errorf("route %q is not relative", target.Pathname)
	}

	if !strings.HasSuffix(b.Path, "/") {
		b.Path += "/"
	}
	b.RawQuery, b.Fragment = "", ""
	u := b.ResolveReference(ref)

	q := u.Query()
	for k, v := range target.Params {
		q.Set(k, v)
	}
	if token != "" {
		q.Set("device", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
