package main

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"adinventory/internal/adapters/httpapi"
	"adinventory/internal/app"
	"adinventory/internal/infra/config"
	httpinfra "adinventory/internal/infra/http"
	applog "adinventory/internal/infra/log"
	"adinventory/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: startup failed")
	}
	defer a.Close()

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	opts := []httpapi.Option{
		httpapi.WithLogger(applog.Component(logger, "httpapi")),
		httpapi.WithAdminToken(cfg.Admin.Token),
		httpapi.WithSweepAge(cfg.Booking.OrderTimeout),
	}
	if cfg.Payments.WebhookSecret != "" {
		opts = append(opts, httpapi.WithWebhookSecret(cfg.Payments.WebhookSecret, cfg.Payments.WebhookSkew))
	} else {
		logger.Warn().Msg("api: PAYMENTS_WEBHOOK_SECRET is empty, webhook disabled")
	}
	if a.Sandbox != nil {
		opts = append(opts, httpapi.WithSandbox(a.Sandbox))
	}
	api := httpapi.NewServer(a.Booking, a.Availability, a.Feed, opts...)
	server := httpinfra.NewServer(logger, api.Router())

	if cfg.Booking.InlineSweep {
		go func() {
			_ = a.SweepRunner().Run(ctx)
		}()
	}
	// An in-process queue has no other consumer.
	if strings.EqualFold(cfg.Queues.Driver, "memory") {
		go func() {
			_ = a.OpsWorker().Run(ctx)
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("api: graceful shutdown failed")
		}
	}()

	if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
		logger.Fatal().Err(err).Msg("api: http server failed")
	}
	logger.Info().Msg("api: stopped")
}
