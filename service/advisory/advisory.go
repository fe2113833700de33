// Package advisory is the process-wide channel for transient user
// messages (toasts) and notification banners. Any component can publish
// without holding a reference to the presentation layer; the root
// presentation component subscribes and renders what it receives.
package advisory

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
	KindBanner  Kind = "banner"
)

// Action is an optional affordance attached to an advisory: a settings
// deep link, a retry control or a banner's "view details".
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Link  string `json:"link,omitempty"`
}

const (
	ActionRetry       = "retry"
	ActionSettings    = "settings"
	ActionViewDetails = "view_details"
)

type Advisory struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Title   string    `json:"title,omitempty"`
	Message string    `json:"message"`
	Action  *Action   `json:"action,omitempty"`
	Sticky  bool      `json:"sticky,omitempty"`
	Shown   time.Time `json:"shown"`
}

type EventType string

const (
	EventShown  EventType = "shown"
	EventHidden EventType = "hidden"
)

type Event struct {
	Type     EventType `json:"type"`
	Advisory Advisory  `json:"advisory"`
}

type Subscriber func(Event)

// Registry fans advisories out to subscribers and remembers the ones
// currently on screen. It is safe for concurrent use; subscribers are
// invoked outside the registry lock, in publication order per call.
type Registry struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Subscriber
	active []Advisory
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[int]Subscriber),
		now:  time.Now,
	}
}

// Subscribe registers fn and returns its disposer. After the disposer
// returns, fn is not invoked again.
func (r *Registry) Subscribe(fn Subscriber) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Show publishes a and returns its id. A non-sticky advisory replaces
// any other non-sticky advisory of the same kind, which matches the
// single-toast-at-a-time behaviour of the mobile shell.
func (r *Registry) Show(a Advisory) string {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Shown = r.now()

	r.mu.Lock()
	var replaced []Advisory
	if !a.Sticky && a.Kind != KindBanner {
		kept := r.active[:0]
		for _, existing := range r.active {
			if !existing.Sticky && existing.Kind != KindBanner {
				replaced = append(replaced, existing)
				continue
			}
			kept = append(kept, existing)
		}
		r.active = kept
	}
	r.active = append(r.active, a)
	subs := r.snapshotLocked()
	r.mu.Unlock()

	for _, old := range replaced {
		publish(subs, Event{Type: EventHidden, Advisory: old})
	}
	publish(subs, Event{Type: EventShown, Advisory: a})
	return a.ID
}

func (r *Registry) Info(message string) string {
	return r.Show(Advisory{Kind: KindInfo, Message: message})
}

func (r *Registry) Warn(message string) string {
	return r.Show(Advisory{Kind: KindWarning, Message: message})
}

func (r *Registry) Error(message string) string {
	return r.Show(Advisory{Kind: KindError, Message: message})
}

// Hide removes the advisory with the given id. It reports whether it
// was on screen.
func (r *Registry) Hide(id string) bool {
	r.mu.Lock()
	var removed *Advisory
	for i, a := range r.active {
		if a.ID == id {
			removed = &a
			r.active = append(r.active[:i], r.active[i+1:]...)
			break
		}
	}
	subs := r.snapshotLocked()
	r.mu.Unlock()

	if removed == nil {
		return false
	}
	publish(subs, Event{Type: EventHidden, Advisory: *removed})
	return true
}

// Get returns the active advisory with the given id.
func (r *Registry) Get(id string) (Advisory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.active {
		if a.ID == id {
			return a, true
		}
	}
	return Advisory{}, false
}

func (r *Registry) Active() []Advisory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Advisory(nil), r.active...)
}

func (r *Registry) snapshotLocked() []Subscriber {
	subs := make([]Subscriber, 0, len(r.subs))
	for i := 0; i < r.nextID; i++ {
		if fn, ok := r.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func publish(subs []Subscriber, ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
