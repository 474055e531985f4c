// Package feed is the client reconciliation layer: a View holds the posts a
// reader has seen, pulls further pages with exclusion sets and keeps the
// visible posts in step with the ledger as invalidation events arrive.
package feed

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/ledger"
	"github.com/sujalbistaa/rankfeed/internal/models"
	"github.com/sujalbistaa/rankfeed/internal/score"
)

// DefaultPageSize is the number of posts requested per load.
const DefaultPageSize = 10

var (
	ErrBusy         = &apperr.Error{Kind: apperr.KindConflict, Op: "feed", Msg: "load already in progress"}
	ErrVoteInFlight = &apperr.Error{Kind: apperr.KindConflict, Op: "feed", Msg: "vote already in flight"}
	ErrClosed       = &apperr.Error{Kind: apperr.KindStale, Op: "feed", Msg: "view closed"}
)

// Source is the viewer-bound ledger API a View reads from.
type Source interface {
	Identity() string
	RankedPage(ctx context.Context, limit int, exclude []uint64) ([]models.Post, error)
	OwnerPage(ctx context.Context, owner string, limit int, exclude []uint64) ([]models.Post, error)
	NewSince(ctx context.Context, limit int, exclude []uint64, since int64) ([]models.Post, error)
	GetPost(ctx context.Context, id uint64) (models.Lookup, error)
	Vote(ctx context.Context, id uint64, dir models.Direction) (models.Post, error)
}

// Query picks the listing a View pages through.
type Query struct {
	Owner string // empty for the ranked feed
}

func Ranked() Query            { return Query{} }
func Owner(owner string) Query { return Query{Owner: owner} }

func (q Query) fetch(ctx context.Context, src Source, limit int, exclude []uint64) ([]models.Post, error) {
	if q.Owner != "" {
		return src.OwnerPage(ctx, q.Owner, limit, exclude)
	}
	return src.RankedPage(ctx, limit, exclude)
}

// View is one reader's window onto a feed. All methods are safe for
// concurrent use.
type View struct {
	src      Source
	query    Query
	pageSize int

	mu         sync.Mutex
	viewed     map[uint64]struct{}
	order      []uint64 // viewed ids, in delivery order
	posts      map[uint64]models.Post
	loading    bool
	generation uint64
	newContent bool
	exhausted  bool
	voting     map[uint64]bool
	closed     bool
	done       chan struct{}

	// Cutoff of a LoadNew burst that did not fit in one page. Further
	// LoadNew calls keep it until a short page drains the burst.
	draining   bool
	drainSince int64
}

type Option func(*View)

// WithPageSize sets the page size, capped at ledger.MaxPageSize.
func WithPageSize(n int) Option {
	return func(v *View) {
		if n > 0 {
			v.pageSize = min(n, ledger.MaxPageSize)
		}
	}
}

func NewView(src Source, q Query, opts ...Option) *View {
	v := &View{
		src:      src,
		query:    q,
		pageSize: DefaultPageSize,
		viewed:   make(map[uint64]struct{}),
		posts:    make(map[uint64]models.Post),
		voting:   make(map[uint64]bool),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// begin claims the load slot and returns the generation the load belongs to
// along with a copy of the exclusion set.
func (v *View) begin(supersede bool) (uint64, []uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0, nil, ErrClosed
	}
	if v.loading && !supersede {
		return 0, nil, ErrBusy
	}
	if supersede {
		v.generation++
	}
	v.loading = true
	return v.generation, slices.Clone(v.order), nil
}

// finish releases the load slot. It reports false when gen has been
// superseded, in which case the caller must drop its response.
func (v *View) finish(gen uint64) bool {
	if v.generation != gen || v.closed {
		return false
	}
	v.loading = false
	return true
}

// LoadMore fetches the next page, excluding everything already viewed, and
// merges it. It returns how many posts were added.
func (v *View) LoadMore(ctx context.Context) (int, error) {
	gen, exclude, err := v.begin(false)
	if err != nil {
		return 0, err
	}
	page, err := v.query.fetch(ctx, v.src, v.pageSize, exclude)

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.finish(gen) {
		slog.Debug("Dropping stale page", "generation", gen)
		return 0, nil
	}
	if err != nil {
		return 0, transient("LoadMore", err)
	}
	if len(page) < v.pageSize {
		v.exhausted = true
	}
	return v.mergeLocked(page), nil
}

// Refresh drops everything viewed and loads a fresh first page. Any load
// still in flight is superseded.
func (v *View) Refresh(ctx context.Context) error {
	gen, _, err := v.begin(true)
	if err != nil {
		return err
	}
	page, err := v.query.fetch(ctx, v.src, v.pageSize, nil)

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.finish(gen) {
		return nil
	}
	if err != nil {
		return transient("Refresh", err)
	}
	v.viewed = make(map[uint64]struct{})
	v.order = nil
	v.posts = make(map[uint64]models.Post)
	v.newContent = false
	v.draining = false
	v.exhausted = len(page) < v.pageSize
	v.mergeLocked(page)
	return nil
}

// LoadNew pulls posts created after the newest visible one. It is the
// action behind the "new posts available" notice. When more than a page is
// new, the notice stays up and the next LoadNew continues from the same
// cutoff.
func (v *View) LoadNew(ctx context.Context) (int, error) {
	gen, exclude, err := v.begin(false)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	since := v.drainSince
	if !v.draining {
		since = 0
		for _, p := range v.posts {
			since = max(since, p.CreatedAt)
		}
	}
	v.mu.Unlock()

	var page []models.Post
	if v.query.Owner == "" {
		page, err = v.src.NewSince(ctx, v.pageSize, exclude, since)
	} else {
		page, err = v.ownerNewSince(ctx, exclude, since)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.finish(gen) {
		return 0, nil
	}
	if err != nil {
		return 0, transient("LoadNew", err)
	}
	v.draining = len(page) >= v.pageSize
	v.drainSince = since
	v.newContent = v.draining
	return v.mergeLocked(page), nil
}

// ownerNewSince reads the owner listing, which is already newest first, and
// keeps what is newer than since.
func (v *View) ownerNewSince(ctx context.Context, exclude []uint64, since int64) ([]models.Post, error) {
	page, err := v.src.OwnerPage(ctx, v.query.Owner, v.pageSize, exclude)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(page, func(p models.Post) bool { return p.CreatedAt <= since }), nil
}

// Merge folds batch into the visible set: a post already present is
// replaced, a new one is added and marked viewed. Merging the same batch
// twice leaves the view unchanged.
func (v *View) Merge(batch []models.Post) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mergeLocked(batch)
}

func (v *View) mergeLocked(batch []models.Post) int {
	added := 0
	for _, p := range batch {
		if _, ok := v.posts[p.ID]; !ok {
			added++
		}
		v.posts[p.ID] = p
		if _, ok := v.viewed[p.ID]; !ok {
			v.viewed[p.ID] = struct{}{}
			v.order = append(v.order, p.ID)
		}
	}
	return added
}

// Posts returns the visible posts in display order.
func (v *View) Posts() []models.Post {
	v.mu.Lock()
	out := make([]models.Post, 0, len(v.posts))
	for _, p := range v.posts {
		out = append(out, p)
	}
	v.mu.Unlock()
	slices.SortFunc(out, displayOrder)
	return out
}

func displayOrder(a, b models.Post) int {
	return cmp.Or(
		cmp.Compare(b.Weight, a.Weight),
		cmp.Compare(b.Likes, a.Likes),
		cmp.Compare(b.Comments, a.Comments),
		cmp.Compare(a.Dislikes, b.Dislikes),
		cmp.Compare(b.CreatedAt, a.CreatedAt),
		cmp.Compare(b.ID, a.ID),
	)
}

// Post returns the visible copy of id.
func (v *View) Post(id uint64) (models.Post, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.posts[id]
	return p, ok
}

// Viewed reports whether id has ever been delivered to this view since the
// last Refresh.
func (v *View) Viewed(id uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.viewed[id]
	return ok
}

func (v *View) NewContentAvailable() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.newContent
}

// HasMore is false once a load returned a short page.
func (v *View) HasMore() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.exhausted
}

func (v *View) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// Close detaches the view. Responses still in flight are dropped, Follow
// returns and every later call returns ErrClosed. Close is idempotent.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	v.generation++
	close(v.done)
}

// Done is closed by Close.
func (v *View) Done() <-chan struct{} { return v.done }

// Vote flips the local copy immediately, then asks the ledger. On failure
// the local copy is rolled back; on success it is replaced by the ledger's
// answer. One vote per post may be in flight.
func (v *View) Vote(ctx context.Context, id uint64, dir models.Direction) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.voting[id] {
		v.mu.Unlock()
		return ErrVoteInFlight
	}
	v.voting[id] = true
	before, visible := v.posts[id]
	if visible {
		v.posts[id] = optimistic(before, dir)
	}
	v.mu.Unlock()

	updated, err := v.src.Vote(ctx, id, dir)

	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.voting, id)
	if err != nil {
		if _, still := v.posts[id]; still && visible {
			v.posts[id] = before
		}
		if apperr.KindOf(err) == apperr.KindNotFound {
			delete(v.posts, id)
		}
		return transient("Vote", err)
	}
	if _, still := v.posts[id]; still {
		v.posts[id] = updated
	}
	return nil
}

// optimistic applies the vote transition to the counters and flags. The
// weight is left for the ledger to compute.
func optimistic(p models.Post, dir models.Direction) models.Post {
	prev := models.VoteNone
	switch {
	case p.Liked:
		prev = models.VoteLike
	case p.Disliked:
		prev = models.VoteDislike
	}
	next, dl, dd := score.Transition(prev, dir)
	p.Likes += dl
	p.Dislikes += dd
	p.Liked = next == models.VoteLike
	p.Disliked = next == models.VoteDislike
	return p
}

// HandleEvent applies one invalidation event to the view.
func (v *View) HandleEvent(ctx context.Context, ev models.Event) error {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return ErrClosed
	}

	switch ev.Component {
	case models.ComponentFeed:
		if ev.Action != models.ActionCreate {
			return nil
		}
		if v.query.Owner != "" && ev.From != v.query.Owner {
			return nil
		}
		if ev.From == v.src.Identity() {
			return v.Refresh(ctx)
		}
		v.mu.Lock()
		v.newContent = true
		v.mu.Unlock()
		return nil

	case models.ComponentPost:
		switch ev.Action {
		case models.ActionDelete:
			v.remove(ev.EntityID)
			return nil
		case models.ActionEdit, models.ActionLike, models.ActionDislike, models.ActionComment, models.ActionFlag:
			return v.refetch(ctx, ev.EntityID)
		}
	}
	return nil
}

// remove drops id from the visible posts. It stays viewed so a later page
// can never bring it back.
func (v *View) remove(id uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.posts, id)
}

func (v *View) refetch(ctx context.Context, id uint64) error {
	v.mu.Lock()
	_, visible := v.posts[id]
	gen := v.generation
	v.mu.Unlock()
	if !visible {
		return nil
	}

	got, err := v.src.GetPost(ctx, id)
	if apperr.KindOf(err) == apperr.KindNotFound {
		v.remove(id)
		return nil
	}
	if err != nil {
		return transient("refetch", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.generation != gen {
		return nil
	}
	if _, still := v.posts[id]; !still {
		return nil
	}
	if p, live := models.Live(got); live {
		v.posts[id] = p
	} else {
		delete(v.posts, id)
	}
	return nil
}

func transient(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Wrap(apperr.KindTransient, op, err)
}
