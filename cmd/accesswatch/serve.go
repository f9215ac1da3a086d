package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbocsi/accesswatch/metrics"
	"github.com/mbocsi/accesswatch/server"
	"github.com/mbocsi/accesswatch/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	serveAddr       string
	serveMaxClients int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API and realtime channel",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides LISTEN_ADDR)")
	serveCmd.Flags().IntVar(&serveMaxClients, "max-clients", -1, "Maximum realtime connections, 0 for no limit (overrides MAX_WS_CLIENTS)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}
	if serveMaxClients >= 0 {
		cfg.MaxWSClients = serveMaxClients
	}
	slog.Info("Application starting", "env", cfg.AppEnv, "addr", cfg.ListenAddr)

	repo, err := openRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hubMetrics := metrics.NewHubMetrics(reg)

	registry := server.NewClientRegistry()
	broker := server.NewBroker(registry)
	broker.SetMetrics(hubMetrics)

	hub := server.NewHub(registry)
	hub.SetMaxClients(cfg.MaxWSClients)
	hub.SetAllowedOrigins(cfg.AllowedOrigins)
	hub.SetMetrics(hubMetrics)
	hub.OnConnect(func(c server.Client) {
		slog.Debug("Realtime clients changed", "count", registry.Count())
	})
	hub.OnDisconnect(func(c server.Client) {
		slog.Debug("Realtime clients changed", "count", registry.Count())
	})

	svc := services.NewServiceContainer(repo, broker)
	srv := server.NewServer(cfg.ListenAddr, svc, hub)
	srv.SetMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received, cleaning up...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
		return err
	}

	select {
	case err := <-errCh:
		return err
	case <-shutdownCtx.Done():
		return shutdownCtx.Err()
	}
}
