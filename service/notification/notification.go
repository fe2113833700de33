// Package notification turns inbound push payloads into in-app
// destinations and decides how each delivery is presented: a banner
// while the app is in the foreground, or an immediate navigation when
// the user opened the app from the notification.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Content is the system-level part of a push payload.
type Content struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// Payload is a push message as received from the transport. Data only
// ever holds string values.
type Payload struct {
	Notification *Content          `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

// ParsePayload decodes an untrusted payload. Fields of the wrong type
// are dropped rather than rejected; an error is returned only when raw
// is not a JSON object, together with an empty payload that still
// routes.
func ParsePayload(raw []byte) (Payload, error) {
	var p Payload

	var top map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(raw), &top); err != nil {
		return p, fmt.Errorf("payload is not a JSON object: %w", err)
	}

	if n, ok := top["notification"]; ok {
		var fields map[string]json.RawMessage
		if json.Unmarshal(n, &fields) == nil {
			c := Content{
				Title: stringField(fields["title"]),
				Body:  stringField(fields["body"]),
			}
			if c.Title != "" || c.Body != "" {
				p.Notification = &c
			}
		}
	}

	if d, ok := top["data"]; ok {
		var fields map[string]json.RawMessage
		if json.Unmarshal(d, &fields) == nil {
			for k, v := range fields {
				var s string
				if json.Unmarshal(v, &s) != nil {
					continue
				}
				if p.Data == nil {
					p.Data = make(map[string]string, len(fields))
				}
				p.Data[k] = s
			}
		}
	}

	return p, nil
}

func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// Title is the display title: data.title when set, else the
// notification title.
func (p Payload) Title() string {
	if v := p.Data["title"]; v != "" {
		return v
	}
	if p.Notification != nil {
		return p.Notification.Title
	}
	return ""
}

// Message is the display text: data.message when set, else the
// notification body.
func (p Payload) Message() string {
	if v := p.Data["message"]; v != "" {
		return v
	}
	if p.Notification != nil {
		return p.Notification.Body
	}
	return ""
}
