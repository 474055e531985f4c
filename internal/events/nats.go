package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/sujalbistaa/rankfeed/internal/models"
)

const subjectPrefix = "feed.events"

// MsgPublisher is the part of *nats.Conn the relay needs.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSRelay republishes bus events to NATS for out-of-process consumers.
type NATSRelay struct {
	nc MsgPublisher
}

func NewNATSRelay(nc MsgPublisher) *NATSRelay {
	return &NATSRelay{nc: nc}
}

// Subject is feed.events.<component>.<action>, e.g. feed.events.post.like.
func Subject(ev models.Event) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, ev.Component, ev.Action)
}

func (r *NATSRelay) Publish(ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}
	msg := &nats.Msg{
		Subject: Subject(ev),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Seq", strconv.FormatUint(ev.Seq, 10))
	return r.nc.PublishMsg(msg)
}

// Run forwards everything delivered on sub until ctx ends. Publish errors
// are logged; NATS is best effort and never holds the poller back.
func (r *NATSRelay) Run(ctx context.Context, sub *Subscription) error {
	return sub.Consume(ctx, func(_ context.Context, ev models.Event) {
		if err := r.Publish(ev); err != nil {
			slog.Error("Failed to relay event", "subject", Subject(ev), "seq", ev.Seq, "error", err)
		}
	})
}
