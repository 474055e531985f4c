// Package events is the invalidation channel: a poller that tails the
// ledger's event outbox and a typed in-process bus that fans events out to
// subscribers (feed views, the websocket hub, the NATS relay).
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sujalbistaa/rankfeed/internal/models"
)

// Filter selects events by component and entity id. ID 0 matches any id.
type Filter struct {
	Component    models.Component
	ID           uint64
	AnyComponent bool
}

// All matches every event.
var All = Filter{AnyComponent: true}

func (f Filter) Match(ev models.Event) bool {
	if !f.AnyComponent && f.Component != ev.Component {
		return false
	}
	return f.ID == 0 || f.ID == ev.EntityID
}

// Subscription is one registered listener. Events arrive on C in cursor
// order. Done is closed by Unsubscribe.
type Subscription struct {
	ID     uuid.UUID
	filter Filter
	ch     chan models.Event
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) C() <-chan models.Event { return s.ch }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Consume calls fn for every delivered event until ctx ends or the
// subscription is cancelled.
func (s *Subscription) Consume(ctx context.Context, fn func(context.Context, models.Event)) error {
	for {
		select {
		case ev := <-s.ch:
			fn(ctx, ev)
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Bus dispatches events to subscribers. Publish blocks until every matching
// subscriber has taken the event, so a slow subscriber slows the poll loop
// down instead of losing events.
type Bus struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uuid.UUID]*Subscription)}
}

// Subscribe registers a listener. buffer is the channel capacity; 0 makes
// every delivery a hand-off.
func (b *Bus) Subscribe(f Filter, buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	s := &Subscription{
		ID:     uuid.New(),
		filter: f,
		ch:     make(chan models.Event, buffer),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s.ID] = s
	b.mu.Unlock()
	return s
}

// Unsubscribe removes s. A Publish blocked on s is released. Safe to call
// more than once.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s.ID)
	b.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Len is the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev to every matching subscriber. It returns ctx.Err() if
// ctx ends before all deliveries complete.
func (b *Bus) Publish(ctx context.Context, ev models.Event) error {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.Match(ev) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- ev:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
