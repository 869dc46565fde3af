package ops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"adinventory/internal/domain"
	"adinventory/internal/infra/clock"
	"adinventory/internal/infra/metrics"
)

// Retrier re-runs ad activation for a paid order.
type Retrier interface {
	RetryActivation(ctx context.Context, orderID string) (domain.OrderConfirmation, error)
}

// Worker consumes the operator queue. Activation retries are handled automatically and
// everything else is forwarded to the operators. A failed task is queued again with a
// growing delay, at most maxAttempts times.
type Worker struct {
	queue       domain.OpsQueue
	retrier     Retrier
	notifier    domain.OperatorNotifier
	maxAttempts int
	backoff     time.Duration
	clock       clock.Clock
	log         zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Worker)

func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay added per attempt before a retry runs.
func WithBackoff(d time.Duration) Option {
	return func(w *Worker) {
		w.backoff = d
	}
}

func WithClock(c clock.Clock) Option {
	return func(w *Worker) {
		w.clock = c
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(w *Worker) {
		w.log = log
	}
}

func NewWorker(queue domain.OpsQueue, retrier Retrier, notifier domain.OperatorNotifier, opts ...Option) *Worker {
	w := &Worker{
		queue:       queue,
		retrier:     retrier,
		notifier:    notifier,
		maxAttempts: 5,
		backoff:     30 * time.Second,
		clock:       clock.NewSystem(),
		log:         zerolog.Nop(),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("max_attempts", w.maxAttempts).Msg("ops worker: started")
	for {
		task, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info().Msg("ops worker: stopped")
				return nil
			}
			w.log.Error().Err(err).Msg("ops worker: receive")
			if err := w.sleep(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}
		herr := w.Handle(ctx, task)
		if herr != nil && ctx.Err() != nil {
			if ack != nil {
				_ = ack(false)
			}
			w.log.Info().Msg("ops worker: stopped")
			return nil
		}
		status := "ok"
		settled := true
		if herr != nil {
			status = "error"
			w.log.Error().Err(herr).Str("task_id", task.ID).Str("kind", string(task.Kind)).Int("attempt", task.Attempt).Msg("ops worker: task failed")
			settled = w.reschedule(ctx, task, herr)
		}
		metrics.OpsTasksProcessed.WithLabelValues(string(task.Kind), status).Inc()
		if ack != nil {
			if err := ack(settled); err != nil {
				w.log.Error().Err(err).Str("task_id", task.ID).Msg("ops worker: ack")
			}
		}
		if !settled {
			// The queue redelivers at once; throttle before the next receive.
			if err := w.sleep(ctx, w.backoff); err != nil {
				return nil
			}
		}
	}
}

// reschedule queues a delayed copy of a failed task with the next attempt number.
// It reports whether the original delivery can be acknowledged.
func (w *Worker) reschedule(ctx context.Context, task domain.OpsTask, cause error) bool {
	attempt := max(task.Attempt, 1)
	if attempt >= w.maxAttempts {
		w.log.Error().Err(cause).Str("task_id", task.ID).Str("kind", string(task.Kind)).Str("order_id", task.OrderID).
			Int("attempt", attempt).Msg("ops worker: giving up on task")
		metrics.OpsTasksProcessed.WithLabelValues(string(task.Kind), "dropped").Inc()
		if task.Kind == domain.OpsActivationRetry {
			msg := fmt.Sprintf("Activation retry for order %s abandoned after %d attempts: %v", task.OrderID, attempt, cause)
			if err := w.notify(ctx, msg); err != nil {
				w.log.Error().Err(err).Str("order_id", task.OrderID).Msg("ops worker: notify give-up")
			}
		}
		return true
	}
	next := task
	next.ID = uuid.NewString()
	next.Attempt = attempt + 1
	next.CreatedAt = w.clock.Now().UTC()
	if err := w.queue.Enqueue(ctx, next); err != nil {
		w.log.Error().Err(err).Str("task_id", task.ID).Msg("ops worker: requeue failed task")
		return false
	}
	return true
}

// Handle processes one task once it is due. An error means the task should be retried.
func (w *Worker) Handle(ctx context.Context, task domain.OpsTask) error {
	if err := w.waitDue(ctx, task); err != nil {
		return err
	}
	switch task.Kind {
	case domain.OpsActivationRetry:
		return w.retryActivation(ctx, task)
	case domain.OpsPaymentReconciliation:
		return w.notify(ctx, fmt.Sprintf("Payment needs reconciliation: order %s, session %s (%s)", orDash(task.OrderID), orDash(task.SessionID), task.Reason))
	case domain.OpsRefund:
		msg := fmt.Sprintf("Refund required: order %s (%s)", orDash(task.OrderID), task.Reason)
		if len(task.LineIDs) > 0 {
			msg += "\nlines: " + strings.Join(task.LineIDs, ", ")
		}
		return w.notify(ctx, msg)
	default:
		return w.notify(ctx, fmt.Sprintf("Unknown ops task %s (%s): %s", task.Kind, task.ID, task.Reason))
	}
}

// waitDue delays attempt n until backoff*(n-1) after the task was queued.
func (w *Worker) waitDue(ctx context.Context, task domain.OpsTask) error {
	if task.CreatedAt.IsZero() || task.Attempt <= 1 {
		return nil
	}
	due := task.CreatedAt.Add(w.backoff * time.Duration(task.Attempt-1))
	if wait := due.Sub(w.clock.Now()); wait > 0 {
		return w.sleep(ctx, wait)
	}
	return nil
}

func (w *Worker) retryActivation(ctx context.Context, task domain.OpsTask) error {
	if task.Attempt < 1 {
		task.Attempt = 1
	}

	_, err := w.retrier.RetryActivation(ctx, task.OrderID)
	var partial *domain.PartialActivationFailure
	switch {
	case err == nil:
		w.log.Info().Str("order_id", task.OrderID).Int("attempt", task.Attempt).Msg("ops worker: activation recovered")
		return nil
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrOrderNotFound):
		return w.notify(ctx, fmt.Sprintf("Activation retry for order %s dropped: %v", task.OrderID, err))
	case errors.As(err, &partial):
		if task.Attempt >= w.maxAttempts {
			return w.notify(ctx, fmt.Sprintf("Activation failed %d times for order %s, lines %s: %v",
				task.Attempt, task.OrderID, strings.Join(partial.LineIDs, ", "), partial.Cause))
		}
		next := task
		next.ID = uuid.NewString()
		next.Attempt++
		next.LineIDs = partial.LineIDs
		next.Reason = partial.Cause.Error()
		next.CreatedAt = w.clock.Now().UTC()
		if err := w.queue.Enqueue(ctx, next); err != nil {
			return fmt.Errorf("requeue activation retry: %w", err)
		}
		return nil
	default:
		return err
	}
}

func (w *Worker) notify(ctx context.Context, text string) error {
	if w.notifier == nil {
		w.log.Warn().Str("alert", text).Msg("ops worker: no notifier configured")
		return nil
	}
	return w.notifier.NotifyOperators(ctx, text)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
