package notification

import (
	"context"
	"log/slog"

	"brandshell/service/advisory"
	"brandshell/service/util"
)

const DefaultBannerMessage = "You have a new notification."

// Navigator is the app's routing layer.
type Navigator interface {
	Navigate(ctx context.Context, target Target) error
}

type PresenterOptions struct {
	Navigator  Navigator
	Advisories *advisory.Registry
	// Inbox is optional. Without it pending navigations are kept in
	// memory only.
	Inbox  *Store
	Logger *slog.Logger
}

// Presenter decides how each delivery reaches the user. It must only be
// used from the shell's event loop.
type Presenter struct {
	navigator  Navigator
	advisories *advisory.Registry
	inbox      *Store
	logger     *slog.Logger

	ready   bool
	pending []Destination
	banners map[string]Destination
}

func NewPresenter(opts PresenterOptions) *Presenter {
	p := &Presenter{
		navigator:  opts.Navigator,
		advisories: opts.Advisories,
		inbox:      opts.Inbox,
		logger:     opts.Logger,
		banners:    make(map[string]Destination),
	}
	if p.logger == nil {
		p.logger = util.DiscardLogger()
	}
	if p.advisories == nil {
		p.advisories = advisory.NewRegistry()
	}
	return p
}

// Deliver routes a raw payload and presents it for dc. Malformed
// payloads are presented as informational notifications; Deliver never
// fails.
func (p *Presenter) Deliver(ctx context.Context, raw []byte, dc DeliveryContext) Destination {
	payload, err := ParsePayload(raw)
	if err != nil {
		p.logger.Warn("Malformed notification payload", "error", err)
	}
	return p.Present(ctx, payload, dc)
}

// Present is Deliver for an already parsed payload.
func (p *Presenter) Present(ctx context.Context, payload Payload, dc DeliveryContext) Destination {
	dest := Route(payload)
	p.logger.Info("Notification received", "context", dc, "kind", dest.Kind)

	if dc == Foreground {
		id := p.showBanner(dest)
		p.record(ctx, dest, dc, false, id)
		return dest
	}

	if _, ok := dest.Target(); !ok {
		p.record(ctx, dest, dc, false, "")
		return dest
	}

	if p.ready {
		p.record(ctx, dest, dc, false, "")
		p.navigate(ctx, dest)
		return dest
	}

	p.logger.Debug("Navigator not ready, deferring notification", "kind", dest.Kind)
	if !p.record(ctx, dest, dc, true, "") {
		p.pending = append(p.pending, dest)
	}
	return dest
}

// ViewDetails performs the navigation offered by a foreground banner and
// dismisses it. It reports whether the banner was known.
func (p *Presenter) ViewDetails(ctx context.Context, bannerID string) bool {
	dest, ok := p.banners[bannerID]
	if !ok {
		return false
	}
	delete(p.banners, bannerID)
	p.advisories.Hide(bannerID)
	p.navigate(ctx, dest)
	return true
}

// Dismiss forgets a banner without navigating.
func (p *Presenter) Dismiss(bannerID string) bool {
	if _, ok := p.banners[bannerID]; !ok {
		return false
	}
	delete(p.banners, bannerID)
	p.advisories.Hide(bannerID)
	return true
}

// FlushPending marks the navigator ready and performs the navigations
// deferred until now, oldest first.
func (p *Presenter) FlushPending(ctx context.Context) int {
	p.ready = true

	dests := p.pending
	p.pending = nil

	if p.inbox != nil {
		deliveries, err := p.inbox.TakePending(ctx)
		if err != nil {
			p.logger.Error("Failed to load pending notifications", "error", err)
		}
		for _, d := range deliveries {
			dests = append(dests, d.Destination())
		}
	}

	for _, d := range dests {
		p.navigate(ctx, d)
	}
	return len(dests)
}

func (p *Presenter) Ready() bool { return p.ready }

func (p *Presenter) showBanner(dest Destination) string {
	message := dest.Message
	if message == "" && dest.Title == "" {
		message = DefaultBannerMessage
	}
	a := advisory.Advisory{
		Kind:    advisory.KindBanner,
		Title:   dest.Title,
		Message: message,
	}
	if _, ok := dest.Target(); ok {
		a.Action = &advisory.Action{ID: advisory.ActionViewDetails, Label: "View details"}
	}
	id := p.advisories.Show(a)
	if a.Action != nil {
		p.banners[id] = dest
	}
	return id
}

func (p *Presenter) navigate(ctx context.Context, dest Destination) {
	target, ok := dest.Target()
	if !ok || p.navigator == nil {
		return
	}
	if err := p.navigator.Navigate(ctx, target); err != nil {
		p.logger.Error("Failed to navigate to notification target", "pathname", target.Pathname, "error", err)
	}
}

// record stores the delivery in the inbox and reports whether it did.
func (p *Presenter) record(ctx context.Context, dest Destination, dc DeliveryContext, pending bool, id string) bool {
	if p.inbox == nil {
		return false
	}
	_, err := p.inbox.Record(ctx, Delivery{
		ID:      id,
		Context: dc,
		Kind:    dest.Kind,
		Title:   dest.Title,
		Message: dest.Message,
		Params:  dest.Params,
		Pending: pending,
	})
	if err != nil {
		p.logger.Error("Failed to record notification", "error", err)
		return false
	}
	return true
}
