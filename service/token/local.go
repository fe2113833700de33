package token

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// LocalTransport issues installation-scoped tokens without a remote push
// service. The desktop host uses it when no push relay is configured.
type LocalTransport struct {
	mu        sync.Mutex
	token     string
	nextSub   int
	listeners map[int]func(string)
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{listeners: make(map[int]func(string))}
}

func (t *LocalTransport) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == "" {
		t.token = uuid.NewString()
	}
	return t.token, nil
}

// Rotate replaces the token and notifies listeners in subscription
// order.
func (t *LocalTransport) Rotate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	t.token = uuid.NewString()
	token := t.token
	listeners := t.snapshotLocked()
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(token)
	}
	return token, nil
}

func (t *LocalTransport) OnRefresh(fn func(string)) func() {
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

func (t *LocalTransport) snapshotLocked() []func(string) {
	out := make([]func(string), 0, len(t.listeners))
	for i := 0; i < t.nextSub; i++ {
		if fn, ok := t.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}
