package notification

import (
	"reflect"
	"testing"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Destination
	}{
		{
			name: "lat lon with aux",
			raw:  `{"data":{"lat":"-22.9519","lon":"-43.2105","placa":"ABC1234"}}`,
			want: Destination{Kind: KindMap, Params: map[string]string{"latitude": "-22.9519", "longitude": "-43.2105", "placa": "ABC1234"}},
		},
		{
			name: "legacy latitude longitude",
			raw:  `{"data":{"latitude":"-22,9519","longitude":"-43,2105","vel":"42","ign":"1"}}`,
			want: Destination{Kind: KindMap, Params: map[string]string{"latitude": "-22,9519", "longitude": "-43,2105", "vel": "42", "ign": "1"}},
		},
		{
			name: "lat lon wins over legacy and screen",
			raw:  `{"data":{"lat":"1","lon":"2","latitude":"3","longitude":"4","screen":"/settings"}}`,
			want: Destination{Kind: KindMap, Params: map[string]string{"latitude": "1", "longitude": "2"}},
		},
		{
			name: "half a coordinate pair is ignored",
			raw:  `{"data":{"lat":"1","longitude":"4","screen":"/alerts"}}`,
			want: Destination{Kind: KindScreen, Params: map[string]string{"route": "/alerts"}},
		},
		{
			name: "screen",
			raw:  `{"data":{"screen":"/settings"}}`,
			want: Destination{Kind: KindScreen, Params: map[string]string{"route": "/settings"}},
		},
		{
			name: "screen with aux",
			raw:  `{"data":{"screen":"/vehicle","id":"77","dt":"2026-01-01","end":"Rua A"}}`,
			want: Destination{Kind: KindScreen, Params: map[string]string{"route": "/vehicle", "id": "77", "dt": "2026-01-01", "end": "Rua A"}},
		},
		{
			name: "notification only",
			raw:  `{"notification":{"title":"T","body":"B"}}`,
			want: Destination{Kind: KindNone, Params: map[string]string{"title": "T", "message": "B"}, Title: "T", Message: "B"},
		},
		{
			name: "data overrides notification text",
			raw:  `{"notification":{"title":"T","body":"B"},"data":{"title":"Alert","message":"Speeding"}}`,
			want: Destination{Kind: KindNone, Params: map[string]string{"title": "Alert", "message": "Speeding"}, Title: "Alert", Message: "Speeding"},
		},
		{
			name: "map carries display text",
			raw:  `{"notification":{"title":"T","body":"B"},"data":{"lat":"1","lon":"2"}}`,
			want: Destination{Kind: KindMap, Params: map[string]string{"latitude": "1", "longitude": "2", "title": "T", "message": "B"}, Title: "T", Message: "B"},
		},
		{
			name: "non-string values are dropped",
			raw:  `{"data":{"lat":-22.9,"lon":-43.2,"screen":{"path":"/x"}}}`,
			want: Destination{Kind: KindNone, Params: map[string]string{}},
		},
		{
			name: "empty object",
			raw:  `{}`,
			want: Destination{Kind: KindNone, Params: map[string]string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePayload([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParsePayload: %v", err)
			}
			got := Route(p)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Route = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRouteNeverPanics(t *testing.T) {
	for _, raw := range []string{
		``,
		`null`,
		`[]`,
		`"string"`,
		`{"data":null,"notification":null}`,
		`{"data":[1,2],"notification":"x"}`,
		`{"notification":{"title":5,"body":["b"]}}`,
		`{"data":{"screen":""}}`,
	} {
		p, _ := ParsePayload([]byte(raw))
		d := Route(p)
		if d.Kind != KindNone || len(d.Params) != 0 {
			t.Fatalf("Route(%s) = %+v, want empty none", raw, d)
		}
	}
}

func TestDestinationTarget(t *testing.T) {
	mapDest := Destination{Kind: KindMap, Params: map[string]string{"latitude": "1", "longitude": "2", "placa": "X"}}
	target, ok := mapDest.Target()
	if !ok || target.Pathname != "map" || target.Params["placa"] != "X" || target.Params["latitude"] != "1" {
		t.Fatalf("map target = %+v, %v", target, ok)
	}

	screenDest := Destination{Kind: KindScreen, Params: map[string]string{"route": "/settings", "id": "9"}}
	target, ok = screenDest.Target()
	if !ok || target.Pathname != "/settings" || target.Params["id"] != "9" {
		t.Fatalf("screen target = %+v, %v", target, ok)
	}
	if _, hasRoute := target.Params["route"]; hasRoute {
		t.Fatal("screen target params still carry route")
	}

	if _, ok := (Destination{Kind: KindNone}).Target(); ok {
		t.Fatal("none destination produced a target")
	}
}

func TestParseDeliveryContext(t *testing.T) {
	tests := []struct {
		in   string
		want DeliveryContext
		ok   bool
	}{
		{"foreground", Foreground, true},
		{"COLD_START", ColdStart, true},
		{"background_opened", BackgroundOpened, true},
		{"", Foreground, true},
		{"later", "", false},
	}
	for _, tt := range tests {
		got, err := ParseDeliveryContext(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Fatalf("ParseDeliveryContext(%q) = %q, %v", tt.in, got, err)
		}
	}
}
