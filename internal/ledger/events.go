package ledger

import (
	"context"

	"github.com/sujalbistaa/rankfeed/internal/models"
)

const maxEventBatch = 500

// EventsSince returns outbox events with Seq > after, in order.
func (l *Ledger) EventsSince(ctx context.Context, after uint64, limit int) ([]models.Event, error) {
	if limit <= 0 || limit > maxEventBatch {
		limit = maxEventBatch
	}
	events := []models.Event{}
	err := l.db.WithContext(ctx).
		Where("seq > ?", after).
		Order("seq ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// LatestSeq is the cursor of the newest event, 0 if there are none. Pollers
// that only care about the future start from here.
func (l *Ledger) LatestSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := l.db.WithContext(ctx).
		Model(&models.Event{}).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&seq).Error
	return seq, err
}
