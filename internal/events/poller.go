package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/models"
)

// DefaultInterval matches the web client's 100ms poll cadence.
const DefaultInterval = 100 * time.Millisecond

// Source is the read side of the ledger outbox.
type Source interface {
	EventsSince(ctx context.Context, after uint64, limit int) ([]models.Event, error)
}

// Clock hands out tickers so tests can drive the poll loop by hand.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

func (systemClock) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

type systemTicker struct{ t *time.Ticker }

func (t systemTicker) C() <-chan time.Time { return t.t.C }
func (t systemTicker) Stop()               { t.t.Stop() }

// Poller tails a Source and publishes every new event on a Bus.
type Poller struct {
	src      Source
	bus      *Bus
	clock    Clock
	interval time.Duration
	batch    int

	mu     sync.Mutex
	cursor uint64
}

type PollerOption func(*Poller)

func WithClock(c Clock) PollerOption { return func(p *Poller) { p.clock = c } }

// WithCursor starts the poller after seq instead of from the beginning of
// the log.
func WithCursor(seq uint64) PollerOption { return func(p *Poller) { p.cursor = seq } }

func WithBatch(n int) PollerOption { return func(p *Poller) { p.batch = n } }

func NewPoller(src Source, bus *Bus, interval time.Duration, opts ...PollerOption) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller{
		src:      src,
		bus:      bus,
		clock:    systemClock{},
		interval: interval,
		batch:    100,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cursor is the seq of the last event delivered to every subscriber.
func (p *Poller) Cursor() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Poll runs one pass: fetch everything after the cursor and publish it in
// order. The cursor moves past an event only once the bus accepted it, so
// an interrupted pass resumes at the first undelivered event.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	evs, err := p.src.EventsSince(ctx, p.cursor, p.batch)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Wrap(apperr.KindTransient, "Poll", err)
		}
		return 0, err
	}
	for i, ev := range evs {
		if err := p.bus.Publish(ctx, ev); err != nil {
			return i, err
		}
		p.cursor = ev.Seq
	}
	return len(evs), nil
}

// Run polls on every tick until ctx ends. A failed poll is logged and
// retried on the next tick. Ticks that fire while a pass is still running
// are coalesced by the ticker, so passes never overlap.
func (p *Poller) Run(ctx context.Context) error {
	t := p.clock.NewTicker(p.interval)
	defer t.Stop()

	slog.Info("Event poller started", "interval", p.interval, "cursor", p.Cursor())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
			n, err := p.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("Event poll failed", "cursor", p.Cursor(), "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("Events dispatched", "count", n, "cursor", p.Cursor())
			}
		}
	}
}
