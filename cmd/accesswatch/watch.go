package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbocsi/accesswatch/cache"
	"github.com/mbocsi/accesswatch/client"
	"github.com/mbocsi/accesswatch/metrics"
	"github.com/mbocsi/accesswatch/proto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	watchOrigin      string
	watchMetricsAddr string
)

// Keys a dashboard page loads on first render.
var dashboardKeys = []string{
	proto.KeyDashboardStats,
	proto.KeyAccessLogs,
	proto.KeyDevices,
	proto.KeyAlerts,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep a dashboard query cache fresh from the realtime channel",
	Long: `watch loads the dashboard queries from a running server into a local
cache, optionally shared through Redis, and keeps them fresh by listening to
the server's realtime channel. Invalidated queries are refetched in the
background.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchOrigin, "origin", "", "Dashboard origin, e.g. https://dash.example.com (overrides DASHBOARD_ORIGIN)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchOrigin != "" {
		cfg.DashboardOrigin = watchOrigin
	}

	reg := prometheus.NewRegistry()
	if watchMetricsAddr != "" {
		go serveMetrics(ctx, watchMetricsAddr, reg)
	}

	queries := cache.NewStore(cache.HTTPFetcher(cfg.DashboardOrigin, nil), nil)
	queries.SetLogger(slog.Default())
	queries.SetMetrics(metrics.NewCacheMetrics(reg))
	queries.SetStaleTime(cfg.CacheStaleTime)
	queries.SetRefetchOnInvalidate(true)
	defer queries.Wait()

	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		queries.SetTier(cache.NewRedisTier(rdb, "", cfg.CacheTTL))
	}

	for _, key := range dashboardKeys {
		if _, err := queries.Get(ctx, key); err != nil {
			slog.Warn("Initial load failed", "key", key, "error", err)
		}
	}

	ccfg := client.DefaultConfig()
	ccfg.Origin = cfg.DashboardOrigin
	ccfg.Path = cfg.RealtimePath
	ccfg.ReconnectDelay = cfg.ReconnectDelay
	ccfg.Metrics = metrics.NewClientMetrics(reg)
	ccfg.OnStatusChange = func(s client.Status) {
		slog.Info("Realtime channel status changed", "status", s.String())
	}

	rt, err := client.NewClient(ccfg, queries)
	if err != nil {
		return err
	}
	rt.SetLogger(slog.Default())
	slog.Info("Watching dashboard", "origin", cfg.DashboardOrigin, "channel", rt.URL())

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Watcher stopped", "cached_keys", len(queries.Keys()))
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", "error", err)
	}
}
