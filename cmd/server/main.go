// Package main is the entrypoint for the ViralSpy API server.
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

	"github.com/kiranshivaraju/viralspy/internal/api"
	"github.com/kiranshivaraju/viralspy/internal/api/handler"
	mw "github.com/kiranshivaraju/viralspy/internal/api/middleware"
	"github.com/kiranshivaraju/viralspy/internal/api/response"
	"github.com/kiranshivaraju/viralspy/internal/assistant"
	"github.com/kiranshivaraju/viralspy/internal/cache"
	"github.com/kiranshivaraju/viralspy/internal/chat"
	"github.com/kiranshivaraju/viralspy/internal/config"
	"github.com/kiranshivaraju/viralspy/internal/scraping"
	"github.com/kiranshivaraju/viralspy/internal/store"
	"github.com/kiranshivaraju/viralspy/internal/workflow"
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
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "workflow_url", cfg.Workflow.DispatchURL)

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

	// 5. Create remote clients
	dispatcher := workflow.NewHTTPClient(cfg.Workflow.DispatchURL, cfg.Workflow.Timeout)
	engine := assistant.NewHTTPClient(cfg.Assistant, assistant.WithRateLimit(cfg.Assistant.RequestsPerSecond))
	if err := engine.Ready(ctx); err != nil {
		// Chat degrades per request; scraping does not depend on the assistant.
		slog.Warn("assistant API not reachable at startup", "error", err)
	}

	// 6. Create store and services
	pgStore := store.NewPostgresStore(pool)

	managerOpts := []scraping.Option{scraping.WithDefaultResultsLimit(cfg.Server.DefaultResultsLimit)}
	var verifier mw.TokenVerifier
	if cfg.Callback.Secret != "" {
		tokens := scraping.NewCallbackTokens(cfg.Callback.Secret, cfg.Callback.TokenTTL)
		managerOpts = append(managerOpts, scraping.WithCallbackTokens(tokens, cfg.Callback.BaseURL))
		verifier = tokens
	} else {
		slog.Warn("CALLBACK_SECRET not set, callback endpoint accepts unauthenticated updates")
	}
	manager := scraping.NewManager(pgStore, redisCache, dispatcher, managerOpts...)

	orchestrator := chat.NewOrchestrator(pgStore, engine,
		chat.WithPolling(cfg.Chat.PollInterval, cfg.Chat.PollMaxAttempts),
		chat.WithLocker(chat.NewJobLocker(redisCache, cfg.Chat.LockTTL)),
		chat.WithLockWait(cfg.Chat.TurnTimeout()),
	)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:         mw.NewAuth(pgStore),
		RateLimit:    mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),
		CallbackAuth: mw.NewCallbackAuth(verifier),

		HealthHandler: healthHandler(pgStore, redisCache),

		StartScrapingHandler:  handler.NewStartScrapingHandler(manager),
		ListScrapingsHandler:  handler.NewListScrapingsHandler(manager),
		GetScrapingHandler:    handler.NewGetScrapingHandler(manager),
		ScrapingStatusHandler: handler.NewScrapingStatusHandler(manager),
		SendMessageHandler:    handler.NewSendMessageHandler(orchestrator),
		ListMessagesHandler:   handler.NewListMessagesHandler(orchestrator),

		CallbackHandler: handler.NewCallbackHandler(manager),

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
		WriteTimeout: writeTimeout(cfg.Chat),
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

// writeTimeout leaves room for a chat request that first waits out another
// turn on the same job and then runs its own. Both are bounded by TurnTimeout.
func writeTimeout(c config.ChatConfig) time.Duration {
	d := 2*c.TurnTimeout() + 15*time.Second
	if d < 30*time.Second {
		return 30 * time.Second
	}
	return d
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
