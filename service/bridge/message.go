package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

const (
	MessageInitialized = "initialized"
	MessageWindowOpen  = "windowOpen"
	MessageAppEvent    = "appEvent"
)

const (
	ActionOpenWhatsApp = "openWhatsApp"
	ActionOpenSocial   = "openSocial"
	ActionOpenWaze     = "openWaze"
)

type message struct {
	Type      string          `json:"type"`
	UserAgent string          `json:"userAgent"`
	URL       string          `json:"url"`
	Data      json.RawMessage `json:"data"`
}

type appEvent struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

type whatsAppParams struct {
	Phone   looseString `json:"phone"`
	Message string      `json:"message"`
}

type socialParams struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	URL      string `json:"url"`
}

type wazeParams struct {
	Lat  looseString `json:"lat"`
	Lng  looseString `json:"lng"`
	Name string      `json:"name"`
}

// looseString accepts a JSON string or number. Content pages pass
// coordinates and phone numbers either way.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = looseString(n.String())
	return nil
}

// HandleMessage dispatches one message posted by the content. Malformed
// and unknown messages are logged and dropped.
func (b *Bridge) HandleMessage(ctx context.Context, raw []byte) {
	if b.closed {
		return
	}

	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.logger.Warn("Ignoring malformed content message", "error", err)
		return
	}

	switch msg.Type {
	case MessageInitialized:
		b.userAgent = msg.UserAgent
		b.logger.Info("Content initialized", "user_agent", msg.UserAgent)
	case MessageWindowOpen:
		b.logger.Warn("Blocked new window request", "url", msg.URL)
		b.recover(ctx, NavigationAttempt{URL: msg.URL, CanGoBack: b.canGoBack})
	case MessageAppEvent:
		b.handleAppEvent(ctx, msg.Data)
	default:
		b.logger.Debug("Ignoring unknown content message", "type", msg.Type)
	}
}

func (b *Bridge) handleAppEvent(ctx context.Context, data json.RawMessage) {
	var ev appEvent
	if len(data) == 0 {
		b.logger.Warn("App event without data")
		return
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		b.logger.Warn("Ignoring malformed app event", "error", err)
		return
	}
	if b.launchers == nil {
		b.logger.Warn("No launchers configured, dropping app event", "action", ev.Action)
		return
	}
	params := ev.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	switch ev.Action {
	case ActionOpenWhatsApp:
		var p whatsAppParams
		if err := json.Unmarshal(params, &p); err != nil {
			b.logger.Warn("Invalid openWhatsApp params", "error", err)
			return
		}
		b.launchers.OpenWhatsApp(ctx, string(p.Phone), p.Message)
	case ActionOpenSocial:
		var p socialParams
		if err := json.Unmarshal(params, &p); err != nil {
			b.logger.Warn("Invalid openSocial params", "error", err)
			return
		}
		b.launchers.OpenSocial(ctx, p.Type, p.Username, p.URL)
	case ActionOpenWaze:
		var p wazeParams
		if err := json.Unmarshal(params, &p); err != nil {
			b.logger.Warn("Invalid openWaze params", "error", err)
			return
		}
		b.launchers.OpenWaze(ctx, string(p.Lat), string(p.Lng), p.Name)
	default:
		b.logger.Debug("Ignoring unknown app event", "action", ev.Action)
	}
}
