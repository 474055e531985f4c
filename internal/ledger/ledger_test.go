package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/db/dbtest"
	"github.com/sujalbistaa/rankfeed/internal/models"
)

const (
	contentA = "0x9d6b0f937680809a01639ad1ae4770241c7c8a0ded490d2f023669f18c6d744b"
	mediaA   = "0x5f04837d78fa7a656419f98d73fc1ddaac1bfdfca9a244a2ee128737a186da6e"
)

// thresholdWeights mirrors the production seed: one dislike sinks a fresh
// post below the threshold.
var thresholdWeights = models.WeightConfig{
	LikesWeightMultiplier:    1,
	DislikesWeightMultiplier: 1,
	OldWeightMultiplier:      0,
	WeightThreshold:          10,
	InitialWeight:            10,
}

// momentumWeights keeps every post listable and lets votes reorder them.
var momentumWeights = models.WeightConfig{
	LikesWeightMultiplier:    3,
	DislikesWeightMultiplier: 1,
	OldWeightMultiplier:      1,
	WeightThreshold:          -1000000,
	InitialWeight:            10,
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestLedger(t *testing.T, cfg models.WeightConfig) *Ledger {
	t.Helper()
	clock := &stepClock{now: time.Unix(1_700_000_000, 0)}
	l := New(dbtest.New(t), cfg, WithClock(clock.Now))
	require.NoError(t, l.Init(context.Background()))
	return l
}

func user(n int) Actor { return Actor{Identity: fmt.Sprintf("user-%d", n)} }

var admin = Actor{Identity: "deployer", Admin: true}

func seed(t *testing.T, l *Ledger, n int, who Actor) []models.Post {
	t.Helper()
	posts := make([]models.Post, 0, n)
	for i := 0; i < n; i++ {
		p, err := l.CreatePost(context.Background(), who, contentA, mediaA)
		require.NoError(t, err)
		posts = append(posts, p)
	}
	return posts
}

func ids(posts []models.Post) []uint64 {
	out := make([]uint64, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func TestCreatePost(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)

	p, err := l.CreatePost(ctx, user(1), contentA, "")
	require.NoError(t, err)

	assert.NotZero(t, p.ID)
	assert.Equal(t, "user-1", p.Author)
	assert.Equal(t, int64(10), p.Weight)
	assert.Equal(t, models.EmptyRef, p.MediaRef)
	assert.NotZero(t, p.CreatedAt)
	assert.Zero(t, p.Likes+p.Dislikes+p.Comments)

	next, err := l.CreatePost(ctx, user(1), "", mediaA)
	require.NoError(t, err)
	assert.Greater(t, next.ID, p.ID)
}

func TestCreatePostValidation(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)

	_, err := l.CreatePost(ctx, user(1), "", models.EmptyRef)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = l.CreatePost(ctx, Actor{}, contentA, mediaA)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	n, err := l.PostCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVoteExclusivity(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, momentumWeights)
	p := seed(t, l, 1, user(1))[0]

	liked, err := l.Vote(ctx, user(2), p.ID, models.VoteLike)
	require.NoError(t, err)
	assert.Equal(t, int64(1), liked.Likes)
	assert.True(t, liked.Liked)

	flipped, err := l.Vote(ctx, user(2), p.ID, models.VoteDislike)
	require.NoError(t, err)
	assert.Equal(t, liked.Likes-1, flipped.Likes)
	assert.Equal(t, liked.Dislikes+1, flipped.Dislikes)
	assert.False(t, flipped.Liked)
	assert.True(t, flipped.Disliked)

	got, err := l.GetByID(ctx, "user-2", p.ID)
	require.NoError(t, err)
	post, ok := models.Live(got)
	require.True(t, ok)
	assert.Equal(t, int64(0), post.Likes)
	assert.Equal(t, int64(1), post.Dislikes)
	assert.False(t, post.Liked)
	assert.True(t, post.Disliked)

	// Another viewer sees no vote of their own.
	got, err = l.GetByID(ctx, "user-3", p.ID)
	require.NoError(t, err)
	assert.False(t, models.Record(got).Disliked)
}

func TestVoteRepeatTogglesOff(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)
	p := seed(t, l, 1, user(1))[0]

	_, err := l.Vote(ctx, user(2), p.ID, models.VoteLike)
	require.NoError(t, err)
	_, err = l.Vote(ctx, user(2), p.ID, models.VoteLike)
	require.NoError(t, err)
	out, err := l.Vote(ctx, user(3), p.ID, models.VoteLike)
	require.NoError(t, err)

	assert.Equal(t, int64(1), out.Likes)
}

func TestVoteFlipWeight(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, momentumWeights)
	p := seed(t, l, 1, user(1))[0]

	a, err := l.Vote(ctx, user(2), p.ID, models.VoteDislike)
	require.NoError(t, err)
	// 1*10 + 3*0 - 1*1
	assert.Equal(t, int64(9), a.Weight)

	b, err := l.Vote(ctx, user(2), p.ID, models.VoteLike)
	require.NoError(t, err)
	// Recomputed once from (likes=1, dislikes=0): 1*9 + 3*1 - 0
	assert.Equal(t, int64(12), b.Weight)
}

func TestVoteRetractWithNone(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, momentumWeights)
	p := seed(t, l, 1, user(1))[0]

	_, err := l.Vote(ctx, user(2), p.ID, models.VoteDislike)
	require.NoError(t, err)
	out, err := l.Vote(ctx, user(2), p.ID, models.VoteNone)
	require.NoError(t, err)
	assert.Zero(t, out.Dislikes)
	assert.False(t, out.Disliked)

	// Retracting again is a no-op and records no event.
	before, err := l.LatestSeq(ctx)
	require.NoError(t, err)
	_, err = l.Vote(ctx, user(2), p.ID, models.VoteNone)
	require.NoError(t, err)
	after, err := l.LatestSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestVoteMissingPost(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)

	_, err := l.Vote(ctx, user(1), 999, models.VoteLike)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConcurrentVotesAreNotLost(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, momentumWeights)
	p := seed(t, l, 1, user(0))[0]

	const voters = 25
	var wg sync.WaitGroup
	errs := make(chan error, voters*2)
	for i := 1; i <= voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Vote(ctx, user(i), p.ID, models.VoteLike)
			errs <- err
			if i%5 == 0 {
				_, err = l.Vote(ctx, user(i), p.ID, models.VoteDislike)
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := l.GetByID(ctx, "", p.ID)
	require.NoError(t, err)
	post := models.Record(got)
	assert.Equal(t, int64(voters-voters/5), post.Likes)
	assert.Equal(t, int64(voters/5), post.Dislikes)
}

func TestThresholdFiltering(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)
	posts := seed(t, l, 3, user(1))
	bad := posts[1]

	for i := 2; i < 5; i++ {
		_, err := l.Vote(ctx, user(i), bad.ID, models.VoteDislike)
		require.NoError(t, err)
	}

	page, err := l.RankedPage(ctx, "", 10, nil)
	require.NoError(t, err)
	assert.NotContains(t, ids(page), bad.ID)
	assert.Len(t, page, 2)

	owner, err := l.OwnerPage(ctx, "", "user-1", 10, nil)
	require.NoError(t, err)
	assert.NotContains(t, ids(owner), bad.ID)

	got, err := l.GetByID(ctx, "", bad.ID)
	require.NoError(t, err)
	post, ok := models.Live(got)
	require.True(t, ok)
	assert.Less(t, post.Weight, thresholdWeights.WeightThreshold)

	n, err := l.PostCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRankedPageOrder(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, momentumWeights)
	posts := seed(t, l, 4, user(1))

	_, err := l.Vote(ctx, user(2), posts[0].ID, models.VoteLike)
	require.NoError(t, err)
	_, err = l.Vote(ctx, user(2), posts[3].ID, models.VoteDislike)
	require.NoError(t, err)

	page, err := l.RankedPage(ctx, "user-2", 10, nil)
	require.NoError(t, err)
	// posts[0] up-voted, then the untouched ones newest first, then the down-voted.
	assert.Equal(t, []uint64{posts[0].ID, posts[2].ID, posts[1].ID, posts[3].ID}, ids(page))
	assert.True(t, page[0].Liked)
	assert.True(t, page[3].Disliked)
}

func TestExclusionCorrectness(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, momentumWeights)
	all := ids(seed(t, l, 30, user(1)))
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 40; round++ {
		var exclude []uint64
		excluded := map[uint64]bool{}
		for _, id := range all {
			if rng.Intn(2) == 0 {
				exclude = append(exclude, id)
				excluded[id] = true
			}
		}
		limit := rng.Intn(35)

		page, err := l.RankedPage(ctx, "", limit, exclude)
		require.NoError(t, err)

		want := len(all) - len(exclude)
		if limit < want {
			want = limit
		}
		assert.Len(t, page, want)
		for _, p := range page {
			assert.False(t, excluded[p.ID], "round %d returned excluded id %d", round, p.ID)
		}
	}
}

func TestPageBoundaries(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, momentumWeights)
	all := ids(seed(t, l, 3, user(1)))

	page, err := l.RankedPage(ctx, "", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = l.RankedPage(ctx, "", 10, append(all, 1000, 1001))
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = l.RankedPage(ctx, "", 10, make([]uint64, MaxExclude+1))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestNoDuplicateDeliveryUnderReordering(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, momentumWeights)
	all := seed(t, l, 40, user(1))
	rng := rand.New(rand.NewSource(42))

	seen := map[uint64]bool{}
	var viewed []uint64
	for i := 0; i < 10; i++ {
		page, err := l.RankedPage(ctx, "", 7, viewed)
		require.NoError(t, err)
		for _, p := range page {
			require.False(t, seen[p.ID], "id %d delivered twice", p.ID)
			seen[p.ID] = true
			viewed = append(viewed, p.ID)
		}
		// Reshuffle the remaining ranking between pages.
		for v := 0; v < 5; v++ {
			target := all[rng.Intn(len(all))].ID
			dir := models.VoteLike
			if rng.Intn(2) == 0 {
				dir = models.VoteDislike
			}
			_, err := l.Vote(ctx, user(100+v), target, dir)
			require.NoError(t, err)
		}
	}
	assert.Len(t, seen, len(all))
}

func TestOwnerPage(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, momentumWeights)
	mine := seed(t, l, 3, user(1))
	seed(t, l, 2, user(2))

	_, err := l.Vote(ctx, user(3), mine[0].ID, models.VoteLike)
	require.NoError(t, err)

	page, err := l.OwnerPage(ctx, "", "user-1", 2, nil)
	require.NoError(t, err)
	// Chronological, not weight-ranked.
	assert.Equal(t, []uint64{mine[2].ID, mine[1].ID}, ids(page))

	page, err = l.OwnerPage(ctx, "", "user-1", 2, ids(page))
	require.NoError(t, err)
	assert.Equal(t, []uint64{mine[0].ID}, ids(page))

	n, err := l.OwnerPostCount(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestNewSince(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)
	viewedPosts := seed(t, l, 100, user(1))

	var since int64
	for _, p := range viewedPosts {
		if p.CreatedAt > since {
			since = p.CreatedAt
		}
	}
	fresh, err := l.CreatePost(ctx, user(2), contentA, mediaA)
	require.NoError(t, err)

	got, err := l.NewSince(ctx, "", 10, ids(viewedPosts), since)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ID, got[0].ID)

	got, err = l.NewSince(ctx, "", 10, append(ids(viewedPosts), fresh.ID), since)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSoftDeleteExclusion(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)
	posts := seed(t, l, 3, user(1))
	gone := posts[2]

	require.NoError(t, l.DeletePost(ctx, user(1), gone.ID))

	ranked, err := l.RankedPage(ctx, "", 10, nil)
	require.NoError(t, err)
	assert.NotContains(t, ids(ranked), gone.ID)

	owner, err := l.OwnerPage(ctx, "", "user-1", 10, nil)
	require.NoError(t, err)
	assert.NotContains(t, ids(owner), gone.ID)

	fresh, err := l.NewSince(ctx, "", 10, nil, 0)
	require.NoError(t, err)
	assert.NotContains(t, ids(fresh), gone.ID)

	got, err := l.GetByID(ctx, "", gone.ID)
	require.NoError(t, err)
	tomb, ok := got.(models.Deleted)
	require.True(t, ok, "expected Deleted, got %T", got)
	assert.Equal(t, gone.ID, tomb.Post.ID)

	_, err = l.Vote(ctx, user(2), gone.ID, models.VoteLike)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, l.DeletePost(ctx, user(1), gone.ID), apperr.ErrNotFound)

	// Ids are never reused.
	next, err := l.CreatePost(ctx, user(1), contentA, mediaA)
	require.NoError(t, err)
	assert.Greater(t, next.ID, gone.ID)
}

func TestDeletePermissions(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)
	posts := seed(t, l, 2, user(1))

	assert.ErrorIs(t, l.DeletePost(ctx, user(2), posts[0].ID), apperr.ErrForbidden)
	assert.NoError(t, l.DeletePost(ctx, admin, posts[0].ID))
}

func TestEditPost(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)
	p := seed(t, l, 1, user(1))[0]

	_, err := l.EditPost(ctx, user(2), p.ID, mediaA, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	out, err := l.EditPost(ctx, user(1), p.ID, mediaA, "")
	require.NoError(t, err)
	assert.Equal(t, mediaA, out.ContentRef)
	assert.Equal(t, models.EmptyRef, out.MediaRef)
	assert.Equal(t, p.Weight, out.Weight)
}

func TestFlagIsOrthogonalToRanking(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)
	p := seed(t, l, 1, user(1))[0]

	assert.ErrorIs(t, l.Flag(ctx, user(1), p.ID), apperr.ErrForbidden)
	require.NoError(t, l.Flag(ctx, admin, p.ID))

	page, err := l.RankedPage(ctx, "", 10, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].Flagged)

	require.NoError(t, l.Unflag(ctx, admin, p.ID))
	got, err := l.GetByID(ctx, "", p.ID)
	require.NoError(t, err)
	assert.False(t, models.Record(got).Flagged)
}

func TestWeightConfig(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)

	cfg, err := l.WeightConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cfg.WeightThreshold)

	_, err = l.SetWeightConfig(ctx, user(1), momentumWeights)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = l.SetWeightConfig(ctx, admin, momentumWeights)
	require.NoError(t, err)
	cfg, err = l.WeightConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, momentumWeights.OldWeightMultiplier, cfg.OldWeightMultiplier)
	assert.Equal(t, momentumWeights.WeightThreshold, cfg.WeightThreshold)

	// Init never overwrites an existing row.
	require.NoError(t, l.Init(ctx))
	cfg, err = l.WeightConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, momentumWeights.LikesWeightMultiplier, cfg.LikesWeightMultiplier)

	p, err := l.CreatePost(ctx, user(1), contentA, "")
	require.NoError(t, err)
	assert.Equal(t, momentumWeights.InitialWeight, p.Weight)
}

func TestComments(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)
	p := seed(t, l, 1, user(1))[0]

	c1, err := l.AddComment(ctx, user(2), p.ID, contentA)
	require.NoError(t, err)
	_, err = l.AddComment(ctx, user(3), p.ID, mediaA)
	require.NoError(t, err)

	_, err = l.AddComment(ctx, user(2), p.ID, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = l.AddComment(ctx, user(2), 999, contentA)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := l.GetByID(ctx, "", p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), models.Record(got).Comments)
	assert.Equal(t, p.Weight, models.Record(got).Weight, "comments do not move weight")

	_, err = l.EditComment(ctx, user(3), c1.ID, mediaA)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	edited, err := l.EditComment(ctx, user(2), c1.ID, mediaA)
	require.NoError(t, err)
	assert.Equal(t, mediaA, edited.ContentRef)

	require.NoError(t, l.DeleteComment(ctx, user(2), c1.ID))
	list, err := l.Comments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "user-3", list[0].Author)

	got, err = l.GetByID(ctx, "", p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), models.Record(got).Comments)
}

func TestEventOutbox(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)

	start, err := l.LatestSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, start)

	p := seed(t, l, 1, user(1))[0]
	_, err = l.Vote(ctx, user(2), p.ID, models.VoteLike)
	require.NoError(t, err)
	_, err = l.Vote(ctx, user(2), p.ID, models.VoteDislike)
	require.NoError(t, err)
	_, err = l.AddComment(ctx, user(3), p.ID, contentA)
	require.NoError(t, err)
	require.NoError(t, l.Flag(ctx, admin, p.ID))
	require.NoError(t, l.DeletePost(ctx, user(1), p.ID))

	evs, err := l.EventsSince(ctx, start, 0)
	require.NoError(t, err)
	type key struct {
		c models.Component
		a models.Action
	}
	var got []key
	for _, ev := range evs {
		assert.Equal(t, p.ID, ev.EntityID)
		got = append(got, key{ev.Component, ev.Action})
	}
	assert.Equal(t, []key{
		{models.ComponentFeed, models.ActionCreate},
		{models.ComponentPost, models.ActionLike},
		{models.ComponentPost, models.ActionDislike},
		{models.ComponentPost, models.ActionComment},
		{models.ComponentPost, models.ActionFlag},
		{models.ComponentPost, models.ActionDelete},
	}, got)
	assert.Equal(t, "user-1", evs[0].From)

	tail, err := l.EventsSince(ctx, evs[3].Seq, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, evs[4].Seq, tail[0].Seq)

	latest, err := l.LatestSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, evs[len(evs)-1].Seq, latest)
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, thresholdWeights)
	s := As(l, user(5))

	p, err := s.CreatePost(ctx, contentA, "")
	require.NoError(t, err)
	assert.Equal(t, "user-5", p.Author)

	_, err = s.Vote(ctx, p.ID, models.VoteLike)
	require.NoError(t, err)
	got, err := s.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, models.Record(got).Liked)
}
