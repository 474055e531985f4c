package feed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sujalbistaa/rankfeed/internal/events"
	"github.com/sujalbistaa/rankfeed/internal/models"
)

// followBuffer is the per-subscription channel capacity used by Follow.
const followBuffer = 16

// Follow subscribes the view to the feed and post events on bus and applies
// them until ctx ends or the view is closed. Both subscriptions are released
// on return. A failed refetch is logged; the next event for the same post
// corrects it.
func (v *View) Follow(ctx context.Context, bus *events.Bus) error {
	feedSub := bus.Subscribe(events.Filter{Component: models.ComponentFeed}, followBuffer)
	defer bus.Unsubscribe(feedSub)
	postSub := bus.Subscribe(events.Filter{Component: models.ComponentPost}, followBuffer)
	defer bus.Unsubscribe(postSub)

	for {
		var ev models.Event
		select {
		case ev = <-feedSub.C():
		case ev = <-postSub.C():
		case <-v.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		err := v.HandleEvent(ctx, ev)
		switch {
		case errors.Is(err, ErrClosed):
			return nil
		case err != nil:
			slog.Warn("Failed to apply feed event",
				"component", ev.Component, "action", ev.Action, "id", ev.EntityID, "error", err)
		}
	}
}
