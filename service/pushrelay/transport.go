// Package pushrelay connects the shell to a push relay: it registers
// this installation as a webhook subscription, and the subscription id
// the relay assigns becomes the device token.
package pushrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"brandshell/service/util"
)

const subscriptionsPath = "/api/v1/webpush/subscriptions"

// RegistrationStore keeps the relay subscription across restarts, so a
// restarted shell keeps its device token instead of leaving a stale
// subscription behind on the relay. An empty id means none is stored.
type RegistrationStore interface {
	Registration(ctx context.Context, relay string) (subscriptionID, key string, err error)
	SaveRegistration(ctx context.Context, relay, subscriptionID, key string) error
}

type Options struct {
	RelayURL string
	APIKey   string
	AppName  string
	// CallbackURL is the shell's public base URL; the relay delivers
	// notifications to CallbackURL + "/api/v1/push/relay/{key}".
	CallbackURL string
	// Keys, when set, ask the relay for encrypted Web Push delivery.
	Keys       *Subscription
	Store      RegistrationStore
	HTTPClient *http.Client
	Logger     *slog.Logger

	// RotateRetries bounds the retries of transient failures in Rotate.
	RotateRetries int
	RetryDelay    time.Duration
}

type registerRequest struct {
	AppName         string  `json:"appName"`
	PushEndpoint    string  `json:"pushEndpoint"`
	P256dh          *string `json:"p256dh,omitempty"`
	Auth            *string `json:"auth,omitempty"`
	VapidPrivateKey *string `json:"vapidPrivateKey,omitempty"`
}

type registerResponse struct {
	SubscriptionID string `json:"subscriptionId"`
}

// Transport is a token.Transport backed by relay subscriptions. It is
// safe for concurrent use.
type Transport struct {
	opts   Options
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	token     string
	key       string
	nextSub   int
	listeners map[int]func(string)
}

func NewTransport(opts Options) (*Transport, error) {
	if _, err := url.ParseRequestURI(opts.RelayURL); err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	if opts.CallbackURL == "" {
		return nil, fmt.Errorf("callback URL is required")
	}
	if opts.AppName == "" {
		opts.AppName = "brandshell"
	}
	if opts.RotateRetries <= 0 {
		opts.RotateRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}

	t := &Transport{
		opts:      opts,
		client:    opts.HTTPClient,
		logger:    opts.Logger,
		listeners: make(map[int]func(string)),
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: 15 * time.Second}
	}
	if t.logger == nil {
		t.logger = util.DiscardLogger()
	}
	return t, nil
}

// Token returns the current subscription id. On first use it resumes the
// stored subscription, or registers with the relay when there is none.
func (t *Transport) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.token != "" {
		tok := t.token
		t.mu.Unlock()
		return tok, nil
	}
	t.mu.Unlock()

	if tok, key := t.load(ctx); tok != "" {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.token == "" {
			t.token, t.key = tok, key
			t.logger.Info("Resumed push relay subscription", "subscriptionID", util.RedactToken(tok))
		}
		return t.token, nil
	}

	tok, key, err := t.register(ctx)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	if t.token != "" {
		// Lost a race with another registration; keep the first.
		defer t.mu.Unlock()
		go t.unregister(context.WithoutCancel(ctx), tok)
		return t.token, nil
	}
	t.token, t.key = tok, key
	t.mu.Unlock()

	t.save(ctx, tok, key)
	return tok, nil
}

// Rotate registers a new subscription, drops the old one and notifies
// listeners of the new token.
func (t *Transport) Rotate(ctx context.Context) (string, error) {
	var (
		tok, key string
		err      error
	)
	for attempt := 0; attempt <= t.opts.RotateRetries; attempt++ {
		tok, key, err = t.register(ctx)
		if err == nil || IsPermanent(err) {
			break
		}
		if attempt < t.opts.RotateRetries {
			delay := t.opts.RetryDelay * time.Duration(1<<uint(attempt))
			t.logger.Warn("Relay registration failed, retrying", "attempt", attempt+1, "error", err, "retryIn", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if err != nil {
		return "", util.LogError(t.logger, "Failed to rotate device token", err)
	}

	t.mu.Lock()
	old := t.token
	t.token, t.key = tok, key
	listeners := t.snapshotLocked()
	t.mu.Unlock()

	t.save(ctx, tok, key)
	if old != "" {
		t.unregister(ctx, old)
	}
	for _, fn := range listeners {
		fn(tok)
	}
	return tok, nil
}

func (t *Transport) OnRefresh(fn func(string)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// AcceptsKey reports whether key is the callback key of the current
// subscription.
func (t *Transport) AcceptsKey(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key != "" && util.SecureEqual(key, t.key)
}

func (t *Transport) load(ctx context.Context) (token, key string) {
	if t.opts.Store == nil {
		return "", ""
	}
	token, key, err := t.opts.Store.Registration(ctx, t.opts.RelayURL)
	if err != nil {
		t.logger.Warn("Failed to load stored relay subscription", "error", err)
		return "", ""
	}
	if key == "" {
		return "", ""
	}
	return token, key
}

func (t *Transport) save(ctx context.Context, token, key string) {
	if t.opts.Store == nil {
		return
	}
	if err := t.opts.Store.SaveRegistration(ctx, t.opts.RelayURL, token, key); err != nil {
		t.logger.Warn("Failed to store relay subscription", "error", err)
	}
}

func (t *Transport) register(ctx context.Context) (token, key string, err error) {
	key = uuid.NewString()
	req := registerRequest{
		AppName:      t.opts.AppName,
		PushEndpoint: strings.TrimRight(t.opts.CallbackURL, "/") + "/api/v1/push/relay/" + key,
	}
	if k := t.opts.Keys; k != nil && k.HasEncryption() {
		req.P256dh, req.Auth, req.VapidPrivateKey = &k.P256dh, &k.Auth, &k.VAPIDPrivateKey
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", "", err
	}

	resp, err := t.do(ctx, http.MethodPost, subscriptionsPath, body)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if err := classifyStatus("relay registration", resp.StatusCode); err != nil {
		return "", "", err
	}

	var out registerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return "", "", fmt.Errorf("failed to decode relay response: %w", err)
	}
	if out.SubscriptionID == "" {
		return "", "", fmt.Errorf("relay returned no subscription id")
	}

	t.logger.Info("Registered with push relay", "app", t.opts.AppName, "subscriptionID", util.RedactToken(out.SubscriptionID))
	return out.SubscriptionID, key, nil
}

func (t *Transport) unregister(ctx context.Context, subscriptionID string) {
	resp, err := t.do(ctx, http.MethodDelete, subscriptionsPath+"/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		t.logger.Warn("Failed to delete relay subscription", "error", err)
		return
	}
	resp.Body.Close()
	if err := classifyStatus("relay unregister", resp.StatusCode); err != nil {
		t.logger.Warn("Failed to delete relay subscription", "error", err)
	}
}

func (t *Transport) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(t.opts.RelayURL, "/")+path, reader)
	if err != nil {
		return nil, NewPermanentError(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.opts.APIKey)
	}
	return t.client.Do(req)
}

func (t *Transport) snapshotLocked() []func(string) {
	out := make([]func(string), 0, len(t.listeners))
	for i := 0; i < t.nextSub; i++ {
		if fn, ok := t.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}
