package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/blob"
	"github.com/sujalbistaa/rankfeed/internal/db/dbtest"
	"github.com/sujalbistaa/rankfeed/internal/events"
	"github.com/sujalbistaa/rankfeed/internal/feed"
	routes "github.com/sujalbistaa/rankfeed/internal/http"
	"github.com/sujalbistaa/rankfeed/internal/ledger"
	"github.com/sujalbistaa/rankfeed/internal/models"
)

var (
	_ feed.Source    = (*Client)(nil)
	_ feed.Publisher = (*Client)(nil)
	_ events.Source  = (*Client)(nil)
	_ blob.Store     = (*Client)(nil)
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := dbtest.New(t)
	l := ledger.New(gdb, models.WeightConfig{
		LikesWeightMultiplier:    1,
		DislikesWeightMultiplier: 1,
		OldWeightMultiplier:      1,
		WeightThreshold:          0,
		InitialWeight:            10,
	})
	require.NoError(t, l.Init(context.Background()))

	router := gin.New()
	routes.SetupRoutes(router, &routes.Env{Ledger: l, Blobs: blob.NewGormStore(gdb)}, routes.Options{
		AdminToken: "token",
		PostRate:   rate.Inf,
		PostBurst:  1,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestViewOverHTTP(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	alice := New(srv.URL, "alice")
	composer := feed.NewComposer(alice, alice)

	var ids []uint64
	for i := 0; i < 4; i++ {
		p, err := composer.Submit(ctx, feed.Draft{Text: "post " + string(rune('a'+i))})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	v := feed.NewView(New(srv.URL, "bob"), feed.Ranked(), feed.WithPageSize(3))
	n, err := v.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = v.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, v.HasMore())

	require.NoError(t, v.Vote(ctx, ids[0], models.VoteLike))
	p, ok := v.Post(ids[0])
	require.True(t, ok)
	assert.True(t, p.Liked)
	assert.Equal(t, int64(1), p.Likes)

	text, err := alice.Get(ctx, p.ContentRef)
	require.NoError(t, err)
	assert.Equal(t, "post a", string(text))
}

func TestPermalinkAndErrors(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	alice := New(srv.URL, "alice")

	p, err := alice.CreatePost(ctx, blob.ContentID([]byte("x")), "")
	require.NoError(t, err)
	require.NoError(t, alice.DeletePost(ctx, p.ID))

	got, err := alice.GetPost(ctx, p.ID)
	require.NoError(t, err)
	_, deleted := got.(models.Deleted)
	assert.True(t, deleted)

	_, err = alice.GetPost(ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = New(srv.URL, "").Vote(ctx, p.ID, models.VoteLike)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = alice.CreatePost(ctx, "", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPollerOverHTTP(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	alice := New(srv.URL, "alice")

	start, err := alice.LatestSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, start)

	_, err = alice.CreatePost(ctx, blob.ContentID([]byte("x")), "")
	require.NoError(t, err)

	bus := events.NewBus()
	sub := bus.Subscribe(events.Filter{Component: models.ComponentFeed}, 4)
	p := events.NewPoller(alice, bus, time.Millisecond, events.WithCursor(start))
	n, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ev := <-sub.C()
	assert.Equal(t, models.ActionCreate, ev.Action)
	assert.Equal(t, "alice", ev.From)
}

func TestUnreachableServerIsTransient(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	c := New(url, "alice")
	_, err := c.RankedPage(context.Background(), 10, nil)
	assert.ErrorIs(t, err, apperr.ErrTransient)

	data, err := c.Get(context.Background(), models.EmptyRef)
	require.NoError(t, err)
	assert.Empty(t, data)
}
