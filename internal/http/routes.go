package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/sujalbistaa/rankfeed/internal/ws"
)

// Options tunes SetupRoutes. Zero values fall back to production defaults.
type Options struct {
	CorsOrigin string
	AdminToken string
	PostRate   rate.Limit
	PostBurst  int
	VoteRate   rate.Limit
	VoteBurst  int
	// Closed to stop background work started by SetupRoutes.
	Stop <-chan struct{}
}

// SetupRoutes configures all application routes and middleware.
func SetupRoutes(router *gin.Engine, env *Env, opts Options) {
	// --- Middleware ---
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(SecurityHeadersMiddleware())

	corsOrigin := opts.CorsOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Token", "X-Identity"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: corsOrigin != "*",
	}))
	router.Use(IdentityMiddleware(opts.AdminToken))

	// --- Rate Limiter Setup ---
	postRate, postBurst := opts.PostRate, opts.PostBurst
	if postRate == 0 {
		postRate = rate.Limit(rateLimitRPS)
	}
	if postBurst == 0 {
		postBurst = rateLimitBurst
	}
	limiter := NewIPRateLimiter(postRate, postBurst)

	voteRate, voteBurst := opts.VoteRate, opts.VoteBurst
	if voteRate == 0 {
		voteRate = rate.Limit(voteLimitRPS)
	}
	if voteBurst == 0 {
		voteBurst = voteLimitBurst
	}
	voteLimiter := NewIPRateLimiter(voteRate, voteBurst)

	if opts.Stop != nil {
		go sweepEvery(limiter, 10*time.Minute, opts.Stop)
		go sweepEvery(voteLimiter, 10*time.Minute, opts.Stop)
	}

	// --- API Routes ---
	authed := RequireIdentity()
	admin := AdminAuthMiddleware(opts.AdminToken)

	api := router.Group("/api")
	{
		api.POST("/posts", authed, RateLimitMiddleware(limiter), env.CreatePost)
		api.GET("/posts/:id", env.GetPost)
		api.PUT("/posts/:id", authed, env.EditPost)
		api.DELETE("/posts/:id", authed, env.DeletePost)
		api.POST("/posts/:id/vote", authed, RateLimitMiddleware(voteLimiter), env.VoteOnPost)
		api.POST("/posts/:id/flag", authed, admin, env.FlagPost)
		api.DELETE("/posts/:id/flag", authed, admin, env.UnflagPost)

		api.GET("/posts/:id/comments", env.GetComments)
		api.POST("/posts/:id/comments", authed, env.AddComment)
		api.PUT("/comments/:id", authed, env.EditComment)
		api.DELETE("/comments/:id", authed, env.DeleteComment)

		api.POST("/feed/ranked", env.RankedFeed)
		api.POST("/feed/owner/:owner", env.OwnerFeed)
		api.POST("/feed/new", env.NewFeed)
		api.GET("/feed/count", env.FeedCount)

		api.GET("/events", env.GetEvents)
		api.GET("/events/latest", env.LatestEvent)

		api.GET("/admin/weights", env.GetWeights)
		api.PUT("/admin/weights", authed, admin, env.SetWeights)

		api.POST("/blobs", authed, env.PutBlob)
		api.GET("/blobs/:cid", env.GetBlob)
	}

	// --- WebSocket Route ---
	if env.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			ws.ServeWs(env.Hub, c.Writer, c.Request)
		})
	}
}
