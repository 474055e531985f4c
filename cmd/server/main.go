package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sujalbistaa/rankfeed/internal/blob"
	"github.com/sujalbistaa/rankfeed/internal/config"
	"github.com/sujalbistaa/rankfeed/internal/db"
	"github.com/sujalbistaa/rankfeed/internal/events"
	routes "github.com/sujalbistaa/rankfeed/internal/http"
	"github.com/sujalbistaa/rankfeed/internal/ledger"
	"github.com/sujalbistaa/rankfeed/internal/ws"
)

func main() {
	// 1. Config & Logger
	cfg := config.Load()
	initLogger(cfg)
	slog.Info("Starting rankfeed", "env", cfg.Env, "port", cfg.Port, "blob_backend", cfg.BlobBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Database
	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		fatal("Failed to initialize database", err)
	}
	slog.Info("Running database migrations...")
	if err := db.Migrate(database); err != nil {
		fatal("Failed to run migrations", err)
	}
	slog.Info("Migrations complete.")

	// 3. Ledger
	ledg := ledger.New(database, cfg.Weights)
	if err := ledg.Init(ctx); err != nil {
		fatal("Failed to seed weight config", err)
	}

	// 4. Blob store
	blobs, closeBlobs, err := openBlobStore(ctx, cfg, database)
	if err != nil {
		fatal("Failed to open blob store", err)
	}
	defer closeBlobs()

	// 5. Invalidation channel: poll the outbox from its current head.
	start, err := ledg.LatestSeq(ctx)
	if err != nil {
		fatal("Failed to read event cursor", err)
	}
	bus := events.NewBus()
	poller := events.NewPoller(ledg, bus, cfg.PollInterval, events.WithCursor(start))

	hub := ws.NewHub()
	go hub.Run(ctx)
	go func() { _ = hub.Relay(ctx, bus.Subscribe(events.All, 64)) }()

	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			fatal("Unable to connect to NATS", err)
		}
		defer nc.Close()
		slog.Info("Connected to NATS", "url", cfg.NatsURL)
		relay := events.NewNATSRelay(nc)
		go func() { _ = relay.Run(ctx, bus.Subscribe(events.All, 256)) }()
	}

	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Event poller stopped", "error", err)
		}
	}()

	// 6. HTTP
	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	routes.SetupRoutes(router, &routes.Env{Ledger: ledg, Blobs: blobs, Hub: hub}, routes.Options{
		CorsOrigin: cfg.CorsOrigin,
		AdminToken: cfg.AdminToken,
		Stop:       ctx.Done(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("listen", err)
		}
	}()

	// 7. Graceful Shutdown
	<-ctx.Done()
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if sqlDB, err := database.DB(); err == nil {
		_ = sqlDB.Close()
	}
	slog.Info("Server exiting")
}

// openBlobStore picks the backend named by BLOB_BACKEND. The returned func
// releases its connection.
func openBlobStore(ctx context.Context, cfg config.Config, database *gorm.DB) (blob.Store, func(), error) {
	switch cfg.BlobBackend {
	case "", "db":
		return blob.NewGormStore(database), func() {}, nil
	case "mongo":
		client, err := blob.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		return blob.NewMongoStore(client.Database(cfg.MongoDB)), closeFn, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("Connected to Redis", "addr", cfg.RedisAddr)
		return blob.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
}

func initLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
