// Package main is the entrypoint for the CommentPulse API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/commentpulse/commentpulse/internal/api"
	"github.com/commentpulse/commentpulse/internal/api/handler"
	mw "github.com/commentpulse/commentpulse/internal/api/middleware"
	"github.com/commentpulse/commentpulse/internal/api/response"
	"github.com/commentpulse/commentpulse/internal/cache"
	"github.com/commentpulse/commentpulse/internal/config"
	"github.com/commentpulse/commentpulse/internal/scheduler"
	"github.com/commentpulse/commentpulse/internal/sentiment"
	"github.com/commentpulse/commentpulse/internal/store"
	"github.com/commentpulse/commentpulse/internal/youtube"
)

const (
	shutdownTimeout    = 30 * time.Second
	staleSweepInterval = time.Minute
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "analyzer_backend", cfg.Analyzer.Backend, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create collaborators
	fetcher := youtube.NewHTTPClient(cfg.YouTube.BaseURL, cfg.YouTube.APIKey, cfg.YouTube.Timeout)
	analyzer, err := sentiment.NewAnalyzer(cfg.Analyzer)
	if err != nil {
		return fmt.Errorf("create analyzer: %w", err)
	}
	slog.Info("analyzer initialized", "backend", analyzer.Name())

	// 6. Create store and scheduler
	pgStore := store.NewPostgresStore(pool)

	pipeline := scheduler.NewPipeline(fetcher, analyzer, cfg.Scheduler.ChunkSize)
	sched := scheduler.New(pgStore, redisCache, pipeline, scheduler.Config{
		MaxRunning:   cfg.Scheduler.MaxRunning,
		PollInterval: cfg.Scheduler.PollInterval,
		ResultTTL:    cfg.Cache.ResultTTL,
	})

	// Jobs left running by a previous process fail as interrupted before
	// the loop starts claiming.
	if _, err := sched.RecoverOrphans(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	if cfg.Scheduler.StaleTimeout > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.SweepStalled(ctx, staleSweepInterval, cfg.Scheduler.StaleTimeout)
		}()
	}

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		SubmitJobHandler: handler.NewSubmitJobHandler(sched),
		GetJobHandler:    handler.NewGetJobHandler(pgStore),
		ListJobsHandler:  handler.NewListJobsHandler(pgStore),
		CancelJobHandler: handler.NewCancelJobHandler(pgStore, sched),

		CacheLookupHandler: handler.NewCacheLookupHandler(redisCache),
		CacheStatsHandler:  handler.NewCacheStatsHandler(redisCache),

		ClearJobsHandler: handler.NewClearJobsHandler(sched),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// The scheduler drains in-flight jobs after ctx cancellation.
	wg.Wait()
	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
