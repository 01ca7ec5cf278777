package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"batchctl/internal/api"
	"batchctl/internal/config"
	"batchctl/internal/logs"

	"github.com/spf13/cobra"
)

const defaultServeAddr = ":9090"

func newServeCommand(a *app) *cobra.Command {
	var addr string
	var drain time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics, health checks and job inspection over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.MetricsAddr
			}
			if addr == "" {
				addr = defaultServeAddr
			}
			return a.serve(cmd.Context(), addr, drain)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: BATCHCTL_METRICS_ADDR or :9090)")
	cmd.Flags().DurationVar(&drain, "drain", 0, "time to report not-ready before shutting down")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string, drain time.Duration) error {
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	checker, err := a.healthChecker(ctx, nil)
	if err != nil {
		return err
	}

	apiKey := config.GetSecretFile(config.GetEnv("BATCHCTL_API_KEY_FILE", ""))
	router := api.NewRouter(api.RouterConfig{
		Jobs:           svc,
		Logs:           logs.Source{API: a.clients.Logs, Group: a.cfg.LogGroup},
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
		HealthChecker:  checker,
		APIKey:         apiKey,
		AllowedOrigin:  config.GetEnv("BATCHCTL_CORS_ORIGIN", ""),
	})
	if apiKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no BATCHCTL_API_KEY_FILE configured")
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-serverErr:
		return err
	}

	checker.SetShuttingDown()
	if drain > 0 {
		slog.Info("Waiting for traffic to drain", "duration", drain)
		time.Sleep(drain)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 25*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
	return nil
}
