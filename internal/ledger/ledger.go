// Package ledger is the durable store of posts, comments and votes. It owns
// weight persistence, enforces the one-active-vote-per-voter rule and
// serves the exclusion-set retrieval queries.
//
// Every mutation runs in a single transaction that also appends a row to
// the event outbox, which the invalidation channel polls.
package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/models"
)

const (
	// MaxPageSize caps every page query.
	MaxPageSize = 100
	// MaxExclude caps the exclusion set of a single query so it fits in one
	// statement's bind parameters on every supported database.
	MaxExclude = 10000

	weightConfigID = 1
)

// Actor identifies the caller of a mutating operation.
type Actor struct {
	Identity string
	Admin    bool
}

// Gateway is the ledger contract consumed by the HTTP layer.
type Gateway interface {
	CreatePost(ctx context.Context, who Actor, contentRef, mediaRef string) (models.Post, error)
	EditPost(ctx context.Context, who Actor, id uint64, contentRef, mediaRef string) (models.Post, error)
	DeletePost(ctx context.Context, who Actor, id uint64) error
	Vote(ctx context.Context, who Actor, id uint64, dir models.Direction) (models.Post, error)
	Flag(ctx context.Context, who Actor, id uint64) error
	Unflag(ctx context.Context, who Actor, id uint64) error
	GetByID(ctx context.Context, viewer string, id uint64) (models.Lookup, error)

	RankedPage(ctx context.Context, viewer string, limit int, exclude []uint64) ([]models.Post, error)
	OwnerPage(ctx context.Context, viewer, owner string, limit int, exclude []uint64) ([]models.Post, error)
	NewSince(ctx context.Context, viewer string, limit int, exclude []uint64, since int64) ([]models.Post, error)
	PostCount(ctx context.Context) (int64, error)
	OwnerPostCount(ctx context.Context, owner string) (int64, error)

	AddComment(ctx context.Context, who Actor, postID uint64, contentRef string) (models.Comment, error)
	EditComment(ctx context.Context, who Actor, id uint64, contentRef string) (models.Comment, error)
	DeleteComment(ctx context.Context, who Actor, id uint64) error
	Comments(ctx context.Context, postID uint64) ([]models.Comment, error)

	WeightConfig(ctx context.Context) (models.WeightConfig, error)
	SetWeightConfig(ctx context.Context, who Actor, cfg models.WeightConfig) (models.WeightConfig, error)

	EventsSince(ctx context.Context, after uint64, limit int) ([]models.Event, error)
	LatestSeq(ctx context.Context) (uint64, error)
}

// Ledger is the gorm-backed Gateway.
type Ledger struct {
	db       *gorm.DB
	defaults models.WeightConfig
	now      func() time.Time
}

var _ Gateway = (*Ledger)(nil)

type Option func(*Ledger)

// WithClock replaces time.Now for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New returns a ledger over db. defaults seeds the weight config the first
// time Init runs against an empty database.
func New(db *gorm.DB, defaults models.WeightConfig, opts ...Option) *Ledger {
	l := &Ledger{db: db, defaults: defaults, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Init seeds the weight config row if it does not exist yet.
func (l *Ledger) Init(ctx context.Context) error {
	seed := l.defaults
	seed.ID = weightConfigID
	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error
}

// WeightConfig returns the current ranking knobs.
func (l *Ledger) WeightConfig(ctx context.Context) (models.WeightConfig, error) {
	return l.weightConfig(l.db.WithContext(ctx))
}

func (l *Ledger) weightConfig(tx *gorm.DB) (models.WeightConfig, error) {
	var cfg models.WeightConfig
	err := tx.Where("id = ?", weightConfigID).Limit(1).Find(&cfg).Error
	if err != nil {
		return models.WeightConfig{}, err
	}
	if cfg.ID == 0 {
		return l.defaults, nil
	}
	return cfg, nil
}

// SetWeightConfig replaces the ranking knobs. Admin only. Existing weights
// are not recomputed; new values apply from the next vote on each post.
func (l *Ledger) SetWeightConfig(ctx context.Context, who Actor, cfg models.WeightConfig) (models.WeightConfig, error) {
	if !who.Admin {
		return models.WeightConfig{}, apperr.New(apperr.KindForbidden, "SetWeightConfig", "admin role required")
	}
	cfg.ID = weightConfigID
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&cfg).Error; err != nil {
			return err
		}
		return l.appendEvent(tx, models.ComponentContract, models.ActionEdit, 0, who.Identity)
	})
	if err != nil {
		return models.WeightConfig{}, err
	}
	return cfg, nil
}

func (l *Ledger) appendEvent(tx *gorm.DB, c models.Component, a models.Action, id uint64, from string) error {
	ev := models.Event{
		Component: c,
		Action:    a,
		EntityID:  id,
		From:      from,
		Timestamp: l.now().Unix(),
	}
	return tx.Create(&ev).Error
}

// lockPost loads a live post for update. Postgres takes a row lock; SQLite
// runs on a single connection, so the transaction is already exclusive.
func lockPost(tx *gorm.DB, op string, id uint64) (*models.Post, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var post models.Post
	if err := q.First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, op, "post not found")
		}
		return nil, err
	}
	return &post, nil
}

func requireIdentity(op string, who Actor) error {
	if who.Identity == "" {
		return apperr.New(apperr.KindValidation, op, "caller identity required")
	}
	return nil
}
