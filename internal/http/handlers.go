package http

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/sujalbistaa/rankfeed/internal/apperr"
	"github.com/sujalbistaa/rankfeed/internal/blob"
	"github.com/sujalbistaa/rankfeed/internal/ledger"
	"github.com/sujalbistaa/rankfeed/internal/models"
	"github.com/sujalbistaa/rankfeed/internal/ws"
)

// --- Configuration Constants ---
const (
	rateLimitRPS   = 1.0 / 3.0 // 1 post every 3 seconds
	rateLimitBurst = 1
	voteLimitRPS   = 2.0 // sustained votes per second per client
	voteLimitBurst = 10
	maxBlobBytes   = 8 << 20
)

// --- Structs for request binding ---
type PostInput struct {
	ContentRef string `json:"contentRef" binding:"required_without=MediaRef"`
	MediaRef   string `json:"mediaRef" binding:"required_without=ContentRef"`
}

type VoteInput struct {
	Direction string `json:"direction" binding:"required,oneof=like dislike none"`
}

type PageInput struct {
	Limit   int      `json:"limit" binding:"gte=0"`
	Exclude []uint64 `json:"exclude" binding:"max=10000"`
	Since   int64    `json:"since"`
}

type CommentInput struct {
	ContentRef string `json:"contentRef" binding:"required"`
}

// PostResponse is what GET /api/posts/:id returns. Deleted posts are still
// served so permalinks can say so.
type PostResponse struct {
	Post    models.Post `json:"post"`
	Deleted bool        `json:"deleted"`
}

// --- Rate Limiter ---
type IPRateLimiter struct {
	visitors map[string]*rate.Limiter
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    b,
	}
}

func (rl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, exists := rl.visitors[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.visitors[ip] = limiter
	}
	return limiter
}

// Sweep forgets visitors whose bucket has refilled.
func (rl *IPRateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for ip, v := range rl.visitors {
		if v.Tokens() >= float64(rl.burst) {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

func RateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.GetLimiter(ip).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please wait."})
			return
		}
		c.Next()
	}
}

// --- Handlers ---
type Env struct {
	Ledger ledger.Gateway
	Blobs  blob.Store
	Hub    *ws.Hub
}

func (e *Env) CreatePost(c *gin.Context) {
	var input PostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	post, err := e.Ledger.CreatePost(c.Request.Context(), actor(c), input.ContentRef, input.MediaRef)
	if err != nil {
		respondError(c, "create post", err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (e *Env) GetPost(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	found, err := e.Ledger.GetByID(c.Request.Context(), actor(c).Identity, id)
	if err != nil {
		respondError(c, "get post", err)
		return
	}
	_, deleted := found.(models.Deleted)
	c.JSON(http.StatusOK, PostResponse{Post: models.Record(found), Deleted: deleted})
}

func (e *Env) EditPost(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input PostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	post, err := e.Ledger.EditPost(c.Request.Context(), actor(c), id, input.ContentRef, input.MediaRef)
	if err != nil {
		respondError(c, "edit post", err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (e *Env) DeletePost(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := e.Ledger.DeletePost(c.Request.Context(), actor(c), id); err != nil {
		respondError(c, "delete post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted successfully"})
}

func (e *Env) VoteOnPost(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input VoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	dir, err := models.ParseDirection(input.Direction)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	post, err := e.Ledger.Vote(c.Request.Context(), actor(c), id, dir)
	if err != nil {
		respondError(c, "vote", err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (e *Env) FlagPost(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := e.Ledger.Flag(c.Request.Context(), actor(c), id); err != nil {
		respondError(c, "flag post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post flagged"})
}

func (e *Env) UnflagPost(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := e.Ledger.Unflag(c.Request.Context(), actor(c), id); err != nil {
		respondError(c, "unflag post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post unflagged"})
}

// --- Feed ---

func bindPage(c *gin.Context) (PageInput, bool) {
	var input PageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return input, false
	}
	return input, true
}

func (e *Env) RankedFeed(c *gin.Context) {
	input, ok := bindPage(c)
	if !ok {
		return
	}
	posts, err := e.Ledger.RankedPage(c.Request.Context(), actor(c).Identity, input.Limit, input.Exclude)
	if err != nil {
		respondError(c, "ranked feed", err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (e *Env) OwnerFeed(c *gin.Context) {
	input, ok := bindPage(c)
	if !ok {
		return
	}
	posts, err := e.Ledger.OwnerPage(c.Request.Context(), actor(c).Identity, c.Param("owner"), input.Limit, input.Exclude)
	if err != nil {
		respondError(c, "owner feed", err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (e *Env) NewFeed(c *gin.Context) {
	input, ok := bindPage(c)
	if !ok {
		return
	}
	posts, err := e.Ledger.NewSince(c.Request.Context(), actor(c).Identity, input.Limit, input.Exclude, input.Since)
	if err != nil {
		respondError(c, "new posts", err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (e *Env) FeedCount(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		n   int64
		err error
	)
	if owner := c.Query("owner"); owner != "" {
		n, err = e.Ledger.OwnerPostCount(ctx, owner)
	} else {
		n, err = e.Ledger.PostCount(ctx)
	}
	if err != nil {
		respondError(c, "count posts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// --- Comments ---

func (e *Env) GetComments(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	comments, err := e.Ledger.Comments(c.Request.Context(), id)
	if err != nil {
		respondError(c, "list comments", err)
		return
	}
	c.JSON(http.StatusOK, comments)
}

func (e *Env) AddComment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input CommentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	comment, err := e.Ledger.AddComment(c.Request.Context(), actor(c), id, input.ContentRef)
	if err != nil {
		respondError(c, "add comment", err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (e *Env) EditComment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input CommentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	comment, err := e.Ledger.EditComment(c.Request.Context(), actor(c), id, input.ContentRef)
	if err != nil {
		respondError(c, "edit comment", err)
		return
	}
	c.JSON(http.StatusOK, comment)
}

func (e *Env) DeleteComment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := e.Ledger.DeleteComment(c.Request.Context(), actor(c), id); err != nil {
		respondError(c, "delete comment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Comment deleted successfully"})
}

// --- Admin ---

func (e *Env) GetWeights(c *gin.Context) {
	cfg, err := e.Ledger.WeightConfig(c.Request.Context())
	if err != nil {
		respondError(c, "get weights", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (e *Env) SetWeights(c *gin.Context) {
	var input models.WeightConfig
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	cfg, err := e.Ledger.SetWeightConfig(c.Request.Context(), actor(c), input)
	if err != nil {
		respondError(c, "set weights", err)
		return
	}
	slog.Info("Weight config updated", "by", actor(c).Identity, "threshold", cfg.WeightThreshold)
	c.JSON(http.StatusOK, cfg)
}

// --- Events ---

func (e *Env) GetEvents(c *gin.Context) {
	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	evs, err := e.Ledger.EventsSince(c.Request.Context(), after, limit)
	if err != nil {
		respondError(c, "list events", err)
		return
	}
	c.JSON(http.StatusOK, evs)
}

func (e *Env) LatestEvent(c *gin.Context) {
	seq, err := e.Ledger.LatestSeq(c.Request.Context())
	if err != nil {
		respondError(c, "latest event", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq})
}

// --- Blobs ---

func (e *Env) PutBlob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBlobBytes)
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty payload"})
		return
	}
	id, err := e.Blobs.Put(c.Request.Context(), data)
	if err != nil {
		respondError(c, "store blob", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (e *Env) GetBlob(c *gin.Context) {
	data, err := e.Blobs.Get(c.Request.Context(), c.Param("cid"))
	if err != nil {
		respondError(c, "load blob", err)
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// --- Helpers ---

func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindNotFound:   http.StatusNotFound,
	apperr.KindValidation: http.StatusBadRequest,
	apperr.KindForbidden:  http.StatusForbidden,
	apperr.KindConflict:   http.StatusConflict,
	apperr.KindStale:      http.StatusConflict,
	apperr.KindTransient:  http.StatusServiceUnavailable,
}

// respondError maps an error kind to a status. Unknown errors are logged
// and hidden behind a generic 500.
func respondError(c *gin.Context, what string, err error) {
	if status, ok := statusByKind[apperr.KindOf(err)]; ok {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	slog.Error("Request failed", "op", what, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + what})
}

// sweepEvery runs limiter.Sweep on a timer until stop is closed.
func sweepEvery(limiter *IPRateLimiter, every time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			limiter.Sweep()
		case <-stop:
			return
		}
	}
}
