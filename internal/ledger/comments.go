package ledger

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/models"
)

// AddComment appends a comment to a live post and bumps its counter.
// Comments never change a post's weight.
func (l *Ledger) AddComment(ctx context.Context, who Actor, postID uint64, contentRef string) (models.Comment, error) {
	const op = "AddComment"
	if err := requireIdentity(op, who); err != nil {
		return models.Comment{}, err
	}
	if models.IsEmptyRef(contentRef) {
		return models.Comment{}, apperr.New(apperr.KindValidation, op, "content required")
	}

	var c models.Comment
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := lockPost(tx, op, postID)
		if err != nil {
			return err
		}
		c = models.Comment{
			PostID:     postID,
			Author:     who.Identity,
			ContentRef: contentRef,
			CreatedAt:  l.now().Unix(),
		}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		if err := tx.Model(post).Update("comments", post.Comments+1).Error; err != nil {
			return err
		}
		return l.appendEvent(tx, models.ComponentPost, models.ActionComment, postID, who.Identity)
	})
	return c, err
}

// EditComment replaces a comment's content. Author only.
func (l *Ledger) EditComment(ctx context.Context, who Actor, id uint64, contentRef string) (models.Comment, error) {
	const op = "EditComment"
	if err := requireIdentity(op, who); err != nil {
		return models.Comment{}, err
	}
	if models.IsEmptyRef(contentRef) {
		return models.Comment{}, apperr.New(apperr.KindValidation, op, "content required")
	}

	var c models.Comment
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := lockComment(tx, op, id)
		if err != nil {
			return err
		}
		if found.Author != who.Identity {
			return apperr.New(apperr.KindForbidden, op, "only the author can edit a comment")
		}
		if err := tx.Model(found).Update("content_ref", contentRef).Error; err != nil {
			return err
		}
		c = *found
		c.ContentRef = contentRef
		return l.appendEvent(tx, models.ComponentComment, models.ActionEdit, id, who.Identity)
	})
	return c, err
}

// DeleteComment soft-deletes a comment and decrements the post counter.
// Author or admin only.
func (l *Ledger) DeleteComment(ctx context.Context, who Actor, id uint64) error {
	const op = "DeleteComment"
	if err := requireIdentity(op, who); err != nil {
		return err
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := lockComment(tx, op, id)
		if err != nil {
			return err
		}
		if found.Author != who.Identity && !who.Admin {
			return apperr.New(apperr.KindForbidden, op, "only the author can delete a comment")
		}
		if err := tx.Delete(found).Error; err != nil {
			return err
		}
		// The parent may already be deleted; its counter is then left alone.
		post, err := lockPost(tx, op, found.PostID)
		switch {
		case apperr.KindOf(err) == apperr.KindNotFound:
		case err != nil:
			return err
		case post.Comments > 0:
			if err := tx.Model(post).Update("comments", post.Comments-1).Error; err != nil {
				return err
			}
			if err := l.appendEvent(tx, models.ComponentPost, models.ActionComment, post.ID, who.Identity); err != nil {
				return err
			}
		}
		return l.appendEvent(tx, models.ComponentComment, models.ActionDelete, id, who.Identity)
	})
}

// Comments lists the live comments of a post, oldest first.
func (l *Ledger) Comments(ctx context.Context, postID uint64) ([]models.Comment, error) {
	comments := []models.Comment{}
	err := l.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC").Order("id ASC").
		Find(&comments).Error
	return comments, err
}

func lockComment(tx *gorm.DB, op string, id uint64) (*models.Comment, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var c models.Comment
	if err := q.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, op, "comment not found")
		}
		return nil, err
	}
	return &c, nil
}
