package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/faceswap/api"
	"github.com/use-agent/faceswap/api/handler"
	"github.com/use-agent/faceswap/browser"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/fallback"
	"github.com/use-agent/faceswap/jobs"
	"github.com/use-agent/faceswap/matcher"
	"github.com/use-agent/faceswap/metrics"
	"github.com/use-agent/faceswap/orchestrator"
	"github.com/use-agent/faceswap/provider"
	"github.com/use-agent/faceswap/store"
	"github.com/use-agent/faceswap/transport"
	"github.com/use-agent/faceswap/watcher"
	"github.com/use-agent/faceswap/webhook"
)

func main() {
	// ── 1. Load and check configuration ─────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("faceswap starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"provider", cfg.Provider.Kind,
		"timeout", cfg.Watch.Timeout,
	)

	// ── 3. Outbound HTTP and staging area ───────────────────────────
	client := transport.NewClient(cfg.Transport)
	st, err := store.New(cfg.Store, client)
	if err != nil {
		slog.Error("failed to initialise staging store", "error", err)
		os.Exit(1)
	}

	// ── 4. Browser (observed provider only) ─────────────────────────
	var (
		b    *browser.Browser
		pool handler.PoolReporter
	)
	watchOpts := []watcher.Option{}
	if cfg.Provider.Kind == config.ProviderObserved {
		b, err = browser.New(cfg.Browser)
		if err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer b.Close()
		pool = b

		results, _, err := matcher.FromConfig(cfg.Observed)
		if err != nil {
			slog.Error("invalid result patterns", "error", err)
			os.Exit(1)
		}
		chain, err := fallback.FromConfig(cfg.Observed, cfg.Watch.FallbackTimeout, results)
		if err != nil {
			slog.Error("invalid fallback configuration", "error", err)
			os.Exit(1)
		}
		watchOpts = append(watchOpts, watcher.WithFallback(chain))
		slog.Info("fallback chain ready", "strategies", chain.Strategies())
	}

	// ── 5. Provider, watcher, orchestrator ──────────────────────────
	adapter, err := provider.New(cfg, client, b, st)
	if err != nil {
		slog.Error("failed to initialise provider", "error", err)
		os.Exit(1)
	}
	m := metrics.New()
	orch := orchestrator.New(cfg, adapter, watcher.New(cfg.Watch, watchOpts...), st, orchestrator.WithMetrics(m))

	// ── 6. Async jobs with webhooks ─────────────────────────────────
	notifier := webhook.New(cfg.Webhook.Secret, webhook.WithMetrics(m))
	registry := jobs.New(cfg.Jobs, orch, st, jobs.WithNotifier(notifier))

	// ── 7. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(cfg, orch, registry, st, pool, m, time.Now())

	// ── 8. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr, "provider", orch.Provider())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 9. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// In-flight synchronous swaps may take up to the run budget.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RunBudget())
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Cancels background jobs and removes their artifacts.
	registry.Close()

	// b.Close() runs via defer and kills Chrome.
	slog.Info("faceswap stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(h))
}
