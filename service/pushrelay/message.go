package pushrelay

import (
	"encoding/json"

	"brandshell/service/notification"
)

// relayMessage is the flat notification shape the relay forwards.
type relayMessage struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// ParseMessage decodes a notification forwarded by the relay. Payloads
// already in push shape ({notification, data}) are parsed as such; the
// relay's flat {title, message} form is mapped onto the notification
// text.
func ParseMessage(raw []byte) (notification.Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return notification.ParsePayload(raw)
	}
	_, hasNotification := fields["notification"]
	_, hasData := fields["data"]
	if hasNotification || hasData {
		return notification.ParsePayload(raw)
	}

	var m relayMessage
	if err := json.Unmarshal(raw, &m); err != nil || (m.Title == "" && m.Message == "") {
		return notification.ParsePayload(raw)
	}
	return notification.Payload{Notification: &notification.Content{Title: m.Title, Body: m.Message}}, nil
}
