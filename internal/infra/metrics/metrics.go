package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CheckoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Checkout attempts by outcome",
	}, []string{"outcome"})

	CartConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_conflicts_total",
		Help: "Cart items rejected during validation or reservation",
	}, []string{"reason"})

	OrderTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order state transitions",
	}, []string{"status"})

	BookedRevenueCents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booked_revenue_cents_total",
		Help: "Revenue of paid orders in minor units",
	}, []string{"currency"})

	ActivationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ad_activation_failures_total",
		Help: "Order lines whose ad activation failed after payment",
	})

	PaymentConfirmationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirmation_failures_total",
		Help: "Payment confirmations routed to manual reconciliation",
	}, []string{"reason"})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stale_order_sweep_seconds",
		Help:    "Duration of a stale order sweep cycle",
		Buckets: prometheus.DefBuckets,
	})

	SweepAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stale_orders_abandoned_total",
		Help: "Pending orders abandoned by the sweep",
	})

	SweepErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stale_order_sweep_errors_total",
		Help: "Sweep cycles that ended with an error",
	})

	FeedFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_fallback_ads_total",
		Help: "Feed slots filled with a house promotion",
	}, []string{"level"})

	OpsTasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ops_tasks_processed_total",
		Help: "Operator tasks handled by the ops worker",
	}, []string{"kind", "status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Duration of outbound network requests",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Outbound network requests",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister registers every collector.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CheckoutsTotal,
		CartConflicts,
		OrderTransitions,
		BookedRevenueCents,
		ActivationFailures,
		PaymentConfirmationFailures,
		SweepDuration,
		SweepAbandoned,
		SweepErrors,
		FeedFallbacks,
		OpsTasksProcessed,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer serves /metrics on addr until ctx is done.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(timeoutCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest records latency and status of an outbound call.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncOrderTransition counts an order entering status.
func IncOrderTransition(status string) {
	OrderTransitions.WithLabelValues(status).Inc()
}

// IncConflict counts a rejected cart item.
func IncConflict(reason string) {
	CartConflicts.WithLabelValues(reason).Inc()
}
