// Package main is the entrypoint for the tracecheck API server.
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

	"github.com/madhavpai/tracecheck/internal/api"
	"github.com/madhavpai/tracecheck/internal/api/handler"
	mw "github.com/madhavpai/tracecheck/internal/api/middleware"
	"github.com/madhavpai/tracecheck/internal/api/response"
	"github.com/madhavpai/tracecheck/internal/config"
	"github.com/madhavpai/tracecheck/internal/evals"
	"github.com/madhavpai/tracecheck/internal/queue"
	"github.com/madhavpai/tracecheck/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

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
	slog.Info("config loaded", "env", cfg.Server.Env)

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

	// 4. Create the job queue client
	jobQueue, err := queue.NewRedisQueue(cfg.Redis.URL, queue.Config{
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BackoffBase:  cfg.Queue.BackoffBase,
		CompletedTTL: cfg.Queue.CompletedTTL,
		FailedTTL:    cfg.Queue.FailedTTL,
	})
	if err != nil {
		return fmt.Errorf("create job queue: %w", err)
	}
	defer jobQueue.Close()

	if err := jobQueue.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Build the evaluation core
	traceStore := store.NewPostgresStore(pool)
	recorder := evals.NewRecorder(traceStore, cfg.Merge)
	scheduler := evals.NewScheduler(jobQueue, recorder, cfg.Queue.DefaultDelay)

	// 6. Promote due delayed jobs in the background
	go promoteLoop(ctx, jobQueue, cfg.Queue.PromoteEvery)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(jobQueue, cfg.Server.RequestsPerMinute),

		HealthHandler:   healthHandler(traceStore, jobQueue),
		ScheduleHandler: handler.NewScheduleHandler(scheduler),
		UpdateHandler:   handler.NewUpdateHandler(recorder),
		GetTraceHandler: handler.NewGetTraceHandler(traceStore),
		GetJobHandler:   handler.NewGetJobHandler(jobQueue),
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

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// promoteLoop periodically moves due delayed jobs onto the waiting list so
// workers can claim them.
func promoteLoop(ctx context.Context, q queue.Queue, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.PromoteDue(ctx, time.Now().UTC())
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("promote due jobs", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("promoted delayed jobs", "count", n)
			}
		}
	}
}

// healthHandler checks database and queue connectivity.
func healthHandler(s store.TraceStore, q queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"queue":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := q.Ping(r.Context()); err != nil {
			checks["queue"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["queue"] != "ok"
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
