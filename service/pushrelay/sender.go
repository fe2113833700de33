package pushrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"brandshell/service/notification"
	"brandshell/service/util"
)

// Sender delivers a notification payload to one subscription, either
// encrypted through Web Push or as a plain JSON webhook.
type Sender struct {
	client *http.Client
	logger *slog.Logger
}

func NewSender(client *http.Client, logger *slog.Logger) *Sender {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Sender{client: client, logger: logger}
}

func (s *Sender) Send(ctx context.Context, sub Subscription, payload notification.Payload) error {
	sub, err := sub.Normalize()
	if err != nil {
		return NewPermanentError(fmt.Errorf("invalid subscription: %w", err))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if sub.HasEncryption() {
		resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			HTTPClient:      s.client,
			VAPIDPublicKey:  sub.VAPIDPublicKey,
			VAPIDPrivateKey: sub.VAPIDPrivateKey,
			TTL:             86400,
		})
		if err != nil {
			return fmt.Errorf("failed to send webpush: %w", err)
		}
		defer resp.Body.Close()

		if err := classifyStatus("webpush", resp.StatusCode); err != nil {
			return err
		}
		s.logger.Debug("Sent encrypted webpush notification", "url", sub.Endpoint)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return NewPermanentError(fmt.Errorf("failed to build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("webhook", resp.StatusCode); err != nil {
		return err
	}
	s.logger.Debug("Sent plain webhook notification", "url", sub.Endpoint)
	return nil
}

// GenerateVAPIDKeys returns a new base64url VAPID key pair.
func GenerateVAPIDKeys() (privateKey, publicKey string, err error) {
	return webpush.GenerateVAPIDKeys()
}

func classifyStatus(what string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%s returned status %d", what, code)
	default:
		return NewPermanentError(fmt.Errorf("%s returned status %d", what, code))
	}
}
