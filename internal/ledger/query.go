package ledger

import (
	"context"

	"gorm.io/gorm"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/models"
)

// The retrieval queries are stateless: the caller passes the ids it has
// already seen instead of an offset, and every call is evaluated against
// the current ranking. An id in exclude is never returned, however ranks
// moved in between calls.

// RankedPage returns up to limit eligible posts by weight, newest first on
// ties.
func (l *Ledger) RankedPage(ctx context.Context, viewer string, limit int, exclude []uint64) ([]models.Post, error) {
	return l.page(ctx, "RankedPage", viewer, limit, exclude, func(q *gorm.DB) *gorm.DB {
		return q.Order("weight DESC").Order("created_at DESC").Order("id DESC")
	})
}

// OwnerPage returns up to limit eligible posts by owner, newest first.
func (l *Ledger) OwnerPage(ctx context.Context, viewer, owner string, limit int, exclude []uint64) ([]models.Post, error) {
	return l.page(ctx, "OwnerPage", viewer, limit, exclude, func(q *gorm.DB) *gorm.DB {
		return q.Where("author = ?", owner).Order("created_at DESC").Order("id DESC")
	})
}

// NewSince returns up to limit eligible posts created strictly after since,
// newest first.
func (l *Ledger) NewSince(ctx context.Context, viewer string, limit int, exclude []uint64, since int64) ([]models.Post, error) {
	return l.page(ctx, "NewSince", viewer, limit, exclude, func(q *gorm.DB) *gorm.DB {
		return q.Where("created_at > ?", since).Order("created_at DESC").Order("id DESC")
	})
}

// PostCount counts listable posts.
func (l *Ledger) PostCount(ctx context.Context) (int64, error) {
	return l.count(ctx, func(q *gorm.DB) *gorm.DB { return q })
}

// OwnerPostCount counts listable posts by owner.
func (l *Ledger) OwnerPostCount(ctx context.Context, owner string) (int64, error) {
	return l.count(ctx, func(q *gorm.DB) *gorm.DB { return q.Where("author = ?", owner) })
}

func (l *Ledger) page(ctx context.Context, op, viewer string, limit int, exclude []uint64, shape func(*gorm.DB) *gorm.DB) ([]models.Post, error) {
	posts := []models.Post{}
	if limit <= 0 {
		return posts, nil
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if len(exclude) > MaxExclude {
		return nil, apperr.New(apperr.KindValidation, op, "exclusion set too large")
	}

	q, err := l.listable(ctx)
	if err != nil {
		return nil, err
	}
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	if err := shape(q).Limit(limit).Find(&posts).Error; err != nil {
		return nil, err
	}
	return l.withViewer(ctx, viewer, posts)
}

func (l *Ledger) count(ctx context.Context, shape func(*gorm.DB) *gorm.DB) (int64, error) {
	q, err := l.listable(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	err = shape(q).Count(&n).Error
	return n, err
}

// listable scopes a query to non-deleted posts at or above the threshold.
// Soft-deleted rows are dropped by gorm's DeletedAt scope.
func (l *Ledger) listable(ctx context.Context) (*gorm.DB, error) {
	db := l.db.WithContext(ctx)
	cfg, err := l.weightConfig(db)
	if err != nil {
		return nil, err
	}
	return db.Model(&models.Post{}).Where("weight >= ?", cfg.WeightThreshold), nil
}

// withViewer fills Liked/Disliked for viewer.
func (l *Ledger) withViewer(ctx context.Context, viewer string, posts []models.Post) ([]models.Post, error) {
	if viewer == "" || len(posts) == 0 {
		return posts, nil
	}
	ids := make([]uint64, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	var votes []models.Vote
	err := l.db.WithContext(ctx).
		Where("voter = ? AND post_id IN ? AND direction <> ?", viewer, ids, models.VoteNone).
		Find(&votes).Error
	if err != nil {
		return nil, err
	}
	dirs := make(map[uint64]models.Direction, len(votes))
	for _, v := range votes {
		dirs[v.PostID] = v.Direction
	}
	for i := range posts {
		d := dirs[posts[i].ID]
		posts[i].Liked = d == models.VoteLike
		posts[i].Disliked = d == models.VoteDislike
	}
	return posts, nil
}

func (l *Ledger) withViewerOne(ctx context.Context, viewer string, post models.Post) (models.Post, error) {
	out, err := l.withViewer(ctx, viewer, []models.Post{post})
	if err != nil {
		return models.Post{}, err
	}
	return out[0], nil
}
