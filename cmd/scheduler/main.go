package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"adinventory/internal/app"
	"adinventory/internal/infra/config"
	applog "adinventory/internal/infra/log"
	"adinventory/internal/infra/metrics"
)

// The scheduler runs the stale order sweep for deployments with INLINE_SWEEP=false.
func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: startup failed")
	}
	defer a.Close()

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	if err := a.SweepRunner().Run(ctx); err != nil {
		logger.Error().Err(err).Msg("scheduler: sweep stopped")
	}
}
