package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"adinventory/internal/app"
	"adinventory/internal/infra/config"
	applog "adinventory/internal/infra/log"
	"adinventory/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if strings.EqualFold(cfg.Queues.Driver, "memory") {
		logger.Fatal().Msg("ops-worker: the memory queue is consumed inside the api process")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ops-worker: startup failed")
	}
	defer a.Close()

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	if err := a.OpsWorker().Run(ctx); err != nil {
		logger.Error().Err(err).Msg("ops-worker: stopped with error")
	}
}
