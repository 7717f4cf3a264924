package cmd

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/use-agent/browserpool/api"
	"github.com/use-agent/browserpool/cache"
	"github.com/use-agent/browserpool/cleaner"
	"github.com/use-agent/browserpool/config"
	"github.com/use-agent/browserpool/manager"
	"github.com/use-agent/browserpool/metrics"
)

var warmUp bool

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Start the HTTP API exposing health, pool statistics, Prometheus metrics and page rendering.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		initLogger(cfg.Log, os.Stdout)
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&warmUp, "warm-up", true, "launch every browser before accepting requests")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("browserpool starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"poolSize", cfg.Pool.MaxSize,
		"failureThreshold", cfg.Pool.FailureThreshold,
	)

	// ── 1. Browser pool ─────────────────────────────────────────────
	mgr := manager.New(cfg)
	defer mgr.CloseAll()

	if warmUp {
		if err := mgr.Initialize(ctx); err != nil {
			// Acquire retries initialization lazily.
			slog.Warn("browser pool warm-up failed", "error", err)
		}
	}

	// ── 2. Metrics ──────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(mgr),
	)

	// ── 3. Cache + router ───────────────────────────────────────────
	cc := cache.New(cfg.Cache.MaxEntries)
	defer cc.Close()

	router := api.NewRouter(ctx, cfg, api.Deps{
		Pool:      mgr,
		Cleaner:   cleaner.NewCleaner(),
		Cache:     cc,
		Render:    metrics.NewRenderMetrics(reg),
		Gatherer:  reg,
		StartTime: time.Now(),
	})

	// ── 4. HTTP server ──────────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ── 5. Graceful shutdown ────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	// In-flight renders get a bounded grace period; the pool is closed
	// afterwards by the deferred CloseAll.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Render.MaxTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("browserpool stopped")
	return nil
}
