package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"brandshell/service/advisory"
)

type sseEvent struct {
	name string
	data []byte
}

// Broker fans advisory events out to Server-Sent Events clients.
type Broker struct {
	// Notifier receives events from the advisory registry.
	notifier chan sseEvent
	// New and closed client connections.
	newClients     chan chan sseEvent
	closingClients chan chan sseEvent
	clients        map[chan sseEvent]bool
	done           chan struct{}
	logger         *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		notifier:       make(chan sseEvent, 64),
		newClients:     make(chan chan sseEvent),
		closingClients: make(chan chan sseEvent),
		clients:        make(map[chan sseEvent]bool),
		done:           make(chan struct{}),
		logger:         logger,
	}
}

// Publish is an advisory.Subscriber. It never blocks the publisher;
// events are dropped when the broker is saturated.
func (b *Broker) Publish(ev advisory.Event) {
	data, err := json.Marshal(ev.Advisory)
	if err != nil {
		b.logger.Error("Failed to encode advisory event", "error", err)
		return
	}
	select {
	case b.notifier <- sseEvent{name: string(ev.Type), data: data}:
	default:
		b.logger.Warn("Advisory event dropped", "type", ev.Type)
	}
}

func (b *Broker) Listen(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			for c := range b.clients {
				close(c)
			}
			return
		case c := <-b.newClients:
			b.clients[c] = true
			b.logger.Debug("Event client added", "clients", len(b.clients))
		case c := <-b.closingClients:
			if b.clients[c] {
				delete(b.clients, c)
				close(c)
			}
			b.logger.Debug("Event client removed", "clients", len(b.clients))
		case ev := <-b.notifier:
			for c := range b.clients {
				select {
				case c <- ev:
				default:
					b.logger.Warn("Slow event client, dropping event", "type", ev.name)
				}
			}
		}
	}
}

func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	messages := make(chan sseEvent, 16)
	select {
	case b.newClients <- messages:
	case <-b.done:
		http.Error(w, "Event stream closed", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			select {
			case b.closingClients <- messages:
			case <-b.done:
			}
			return
		case ev, open := <-messages:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
			flusher.Flush()
		}
	}
}
