package ledger

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/models"
	"github.com/sujalbistaa/rankfeed/internal/score"
)

func normalizeRefs(op, contentRef, mediaRef string) (string, string, error) {
	if models.IsEmptyRef(contentRef) && models.IsEmptyRef(mediaRef) {
		return "", "", apperr.New(apperr.KindValidation, op, "content or media required")
	}
	if contentRef == "" {
		contentRef = models.EmptyRef
	}
	if mediaRef == "" {
		mediaRef = models.EmptyRef
	}
	return contentRef, mediaRef, nil
}

// CreatePost stores a new post with the configured initial weight.
func (l *Ledger) CreatePost(ctx context.Context, who Actor, contentRef, mediaRef string) (models.Post, error) {
	const op = "CreatePost"
	if err := requireIdentity(op, who); err != nil {
		return models.Post{}, err
	}
	contentRef, mediaRef, err := normalizeRefs(op, contentRef, mediaRef)
	if err != nil {
		return models.Post{}, err
	}

	var post models.Post
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := l.weightConfig(tx)
		if err != nil {
			return err
		}
		post = models.Post{
			Author:     who.Identity,
			ContentRef: contentRef,
			MediaRef:   mediaRef,
			CreatedAt:  l.now().Unix(),
			Weight:     score.Initial(cfg),
		}
		if err := tx.Create(&post).Error; err != nil {
			return err
		}
		return l.appendEvent(tx, models.ComponentFeed, models.ActionCreate, post.ID, who.Identity)
	})
	if err != nil {
		return models.Post{}, err
	}
	slog.Debug("Post created", "post_id", post.ID, "author", post.Author, "weight", post.Weight)
	return post, nil
}

// EditPost replaces the content and media of a post. Author only.
func (l *Ledger) EditPost(ctx context.Context, who Actor, id uint64, contentRef, mediaRef string) (models.Post, error) {
	const op = "EditPost"
	if err := requireIdentity(op, who); err != nil {
		return models.Post{}, err
	}
	contentRef, mediaRef, err := normalizeRefs(op, contentRef, mediaRef)
	if err != nil {
		return models.Post{}, err
	}

	var out models.Post
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := lockPost(tx, op, id)
		if err != nil {
			return err
		}
		if post.Author != who.Identity {
			return apperr.New(apperr.KindForbidden, op, "only the author can edit a post")
		}
		if err := tx.Model(post).Updates(map[string]any{
			"content_ref": contentRef,
			"media_ref":   mediaRef,
		}).Error; err != nil {
			return err
		}
		out = *post
		out.ContentRef, out.MediaRef = contentRef, mediaRef
		return l.appendEvent(tx, models.ComponentPost, models.ActionEdit, id, who.Identity)
	})
	if err != nil {
		return models.Post{}, err
	}
	return l.withViewerOne(ctx, who.Identity, out)
}

// DeletePost soft-deletes a post. The row and its votes stay; the id is
// never handed out again. Author or admin only.
func (l *Ledger) DeletePost(ctx context.Context, who Actor, id uint64) error {
	const op = "DeletePost"
	if err := requireIdentity(op, who); err != nil {
		return err
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := lockPost(tx, op, id)
		if err != nil {
			return err
		}
		if post.Author != who.Identity && !who.Admin {
			return apperr.New(apperr.KindForbidden, op, "only the author can delete a post")
		}
		if err := tx.Delete(post).Error; err != nil {
			return err
		}
		return l.appendEvent(tx, models.ComponentPost, models.ActionDelete, id, who.Identity)
	})
}

// Flag marks a post for client-side blurring. Admin only; ranking is
// unaffected.
func (l *Ledger) Flag(ctx context.Context, who Actor, id uint64) error {
	return l.setFlag(ctx, "Flag", who, id, true)
}

// Unflag clears the flag set by Flag.
func (l *Ledger) Unflag(ctx context.Context, who Actor, id uint64) error {
	return l.setFlag(ctx, "Unflag", who, id, false)
}

func (l *Ledger) setFlag(ctx context.Context, op string, who Actor, id uint64, flagged bool) error {
	if !who.Admin {
		return apperr.New(apperr.KindForbidden, op, "admin role required")
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := lockPost(tx, op, id)
		if err != nil {
			return err
		}
		if post.Flagged == flagged {
			return nil
		}
		if err := tx.Model(post).Update("flagged", flagged).Error; err != nil {
			return err
		}
		return l.appendEvent(tx, models.ComponentPost, models.ActionFlag, id, who.Identity)
	})
}

// GetByID fetches a post regardless of weight or deletion. The caller
// decides what a Deleted result means.
func (l *Ledger) GetByID(ctx context.Context, viewer string, id uint64) (models.Lookup, error) {
	var post models.Post
	err := l.db.WithContext(ctx).Unscoped().First(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "GetByID", "post not found")
	}
	if err != nil {
		return nil, err
	}
	post, err = l.withViewerOne(ctx, viewer, post)
	if err != nil {
		return nil, err
	}
	if post.DeletedAt.Valid {
		return models.Deleted{Post: post}, nil
	}
	return models.Present{Post: post}, nil
}

// Vote applies a like, dislike or retraction for who on post id and returns
// the updated post as seen by the voter.
func (l *Ledger) Vote(ctx context.Context, who Actor, id uint64, dir models.Direction) (models.Post, error) {
	const op = "Vote"
	if err := requireIdentity(op, who); err != nil {
		return models.Post{}, err
	}
	switch dir {
	case models.VoteLike, models.VoteDislike, models.VoteNone:
	default:
		return models.Post{}, apperr.New(apperr.KindValidation, op, "unknown vote direction")
	}

	var out models.Post
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := l.weightConfig(tx)
		if err != nil {
			return err
		}
		post, err := lockPost(tx, op, id)
		if err != nil {
			return err
		}

		var vote models.Vote
		if err := tx.Where("post_id = ? AND voter = ?", id, who.Identity).Limit(1).Find(&vote).Error; err != nil {
			return err
		}
		prev := vote.Direction

		tally, next := score.Vote(cfg, score.Tally{
			Weight:   post.Weight,
			Likes:    post.Likes,
			Dislikes: post.Dislikes,
		}, prev, dir)

		out = *post
		out.Liked = next == models.VoteLike
		out.Disliked = next == models.VoteDislike
		if next == prev {
			return nil
		}

		if err := tx.Model(post).Updates(map[string]any{
			"likes":    tally.Likes,
			"dislikes": tally.Dislikes,
			"weight":   tally.Weight,
		}).Error; err != nil {
			return err
		}
		out.Likes, out.Dislikes, out.Weight = tally.Likes, tally.Dislikes, tally.Weight

		if vote.ID == 0 {
			vote = models.Vote{PostID: id, Voter: who.Identity, Direction: next}
			if err := tx.Create(&vote).Error; err != nil {
				return err
			}
		} else if err := tx.Model(&vote).Update("direction", next).Error; err != nil {
			return err
		}

		action := models.ActionLike
		if next == models.VoteDislike || (next == models.VoteNone && prev == models.VoteDislike) {
			action = models.ActionDislike
		}
		return l.appendEvent(tx, models.ComponentPost, action, id, who.Identity)
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			slog.Warn("Vote on missing post", "post_id", id, "voter", who.Identity)
		}
		return models.Post{}, err
	}
	return out, nil
}
