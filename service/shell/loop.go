package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"brandshell/service/util"
)

var ErrStopped = errors.New("shell loop stopped")

// Loop is the shell's UI thread. Posted functions run one at a time in
// posting order; Go runs blocking work beside it.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	workers sync.WaitGroup
}

func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post queues f without blocking. Functions posted after the loop has
// stopped are dropped.
func (l *Loop) Post(f func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) Go(f func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		f()
	}()
}

// Call runs f on the loop and waits for it. It must not be called from
// the loop itself.
func (l *Loop) Call(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		f()
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted functions until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		for f := l.next(); f != nil; f = l.next() {
			l.step(f)
		}
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// Wait blocks until every function started with Go has returned.
func (l *Loop) Wait() {
	l.workers.Wait()
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	f := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return f
}

func (l *Loop) step(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered from panic on shell loop", "error", fmt.Sprint(r))
		}
	}()
	f()
}
