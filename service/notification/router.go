package notification

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindMap    Kind = "map"
	KindScreen Kind = "screen"
	KindNone   Kind = "none"
)

type DeliveryContext string

const (
	ColdStart        DeliveryContext = "cold_start"
	BackgroundOpened DeliveryContext = "background_opened"
	Foreground       DeliveryContext = "foreground"
)

func ParseDeliveryContext(s string) (DeliveryContext, error) {
	switch c := DeliveryContext(strings.ToLower(strings.TrimSpace(s))); c {
	case ColdStart, BackgroundOpened, Foreground:
		return c, nil
	case "":
		return Foreground, nil
	default:
		return "", fmt.Errorf("unknown delivery context %q", s)
	}
}

// AuxFields are free-form values passed through to map and screen
// destinations unmodified.
var AuxFields = []string{"placa", "end", "vel", "dt", "ign", "id"}

// Destination is where a notification leads inside the app. Title and
// Message are the display text regardless of kind.
type Destination struct {
	Kind    Kind              `json:"kind"`
	Params  map[string]string `json:"params"`
	Title   string            `json:"title,omitempty"`
	Message string            `json:"message,omitempty"`
}

// MapPathname is the route of the native map view.
const MapPathname = "map"

// Target is the route handed to the app's navigation layer.
type Target struct {
	Pathname string            `json:"pathname"`
	Params   map[string]string `json:"params,omitempty"`
}

// rule recognises one payload shape. Rules are tried in order and the
// first match wins.
type rule func(data map[string]string) (Destination, bool)

var rules = []rule{
	coordinates("lat", "lon"),
	coordinates("latitude", "longitude"),
	screen,
}

func coordinates(latKey, lngKey string) rule {
	return func(data map[string]string) (Destination, bool) {
		lat, lng := data[latKey], data[lngKey]
		if lat == "" || lng == "" {
			return Destination{}, false
		}
		return Destination{
			Kind:   KindMap,
			Params: map[string]string{"latitude": lat, "longitude": lng},
		}, true
	}
}

func screen(data map[string]string) (Destination, bool) {
	route := data["screen"]
	if route == "" {
		return Destination{}, false
	}
	return Destination{
		Kind:   KindScreen,
		Params: map[string]string{"route": route},
	}, true
}

// Route resolves a payload to its destination. It never fails: a
// payload no rule recognises yields KindNone with the display text as
// params.
func Route(p Payload) Destination {
	title, message := p.Title(), p.Message()

	for _, r := range rules {
		d, ok := r(p.Data)
		if !ok {
			continue
		}
		for _, k := range AuxFields {
			if v, ok := p.Data[k]; ok && v != "" {
				d.Params[k] = v
			}
		}
		if d.Kind == KindMap {
			if title != "" {
				d.Params["title"] = title
			}
			if message != "" {
				d.Params["message"] = message
			}
		}
		d.Title, d.Message = title, message
		return d
	}

	d := Destination{Kind: KindNone, Params: map[string]string{}, Title: title, Message: message}
	if title != "" {
		d.Params["title"] = title
	}
	if message != "" {
		d.Params["message"] = message
	}
	return d
}

// Target converts d into an app route. It reports false for KindNone.
func (d Destination) Target() (Target, bool) {
	switch d.Kind {
	case KindMap:
		return Target{Pathname: MapPathname, Params: copyParams(d.Params, "")}, true
	case KindScreen:
		return Target{Pathname: d.Params["route"], Params: copyParams(d.Params, "route")}, true
	default:
		return Target{}, false
	}
}

func copyParams(params map[string]string, skip string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if k != skip {
			out[k] = v
		}
	}
	return out
}
