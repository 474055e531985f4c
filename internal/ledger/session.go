package ledger

import (
	"context"

	"github.com/sujalbistaa/rankfeed/internal/models"
)

// Session binds a Gateway to one caller, giving the viewer-relative API the
// feed client consumes.
type Session struct {
	Gateway Gateway
	Actor   Actor
}

// As returns a Session for who.
func As(g Gateway, who Actor) *Session {
	return &Session{Gateway: g, Actor: who}
}

func (s *Session) Identity() string { return s.Actor.Identity }

func (s *Session) RankedPage(ctx context.Context, limit int, exclude []uint64) ([]models.Post, error) {
	return s.Gateway.RankedPage(ctx, s.Actor.Identity, limit, exclude)
}

func (s *Session) OwnerPage(ctx context.Context, owner string, limit int, exclude []uint64) ([]models.Post, error) {
	return s.Gateway.OwnerPage(ctx, s.Actor.Identity, owner, limit, exclude)
}

func (s *Session) NewSince(ctx context.Context, limit int, exclude []uint64, since int64) ([]models.Post, error) {
	return s.Gateway.NewSince(ctx, s.Actor.Identity, limit, exclude, since)
}

func (s *Session) GetPost(ctx context.Context, id uint64) (models.Lookup, error) {
	return s.Gateway.GetByID(ctx, s.Actor.Identity, id)
}

func (s *Session) Vote(ctx context.Context, id uint64, dir models.Direction) (models.Post, error) {
	return s.Gateway.Vote(ctx, s.Actor, id, dir)
}

func (s *Session) CreatePost(ctx context.Context, contentRef, mediaRef string) (models.Post, error) {
	return s.Gateway.CreatePost(ctx, s.Actor, contentRef, mediaRef)
}

func (s *Session) EventsSince(ctx context.Context, after uint64, limit int) ([]models.Event, error) {
	return s.Gateway.EventsSince(ctx, after, limit)
}

func (s *Session) LatestSeq(ctx context.Context) (uint64, error) {
	return s.Gateway.LatestSeq(ctx)
}
