package sweep

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"adinventory/internal/domain"
	"adinventory/internal/infra/clock"
	"adinventory/internal/infra/metrics"
)

// Expirer releases pending orders older than a cutoff.
type Expirer interface {
	ExpireStaleOrders(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// Lease lets only one process run fn per key until ttl passes.
type Lease interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// Runner periodically abandons stale pending orders.
type Runner struct {
	expirer   Expirer
	interval  time.Duration
	olderThan time.Duration
	lease     Lease
	clock     clock.Clock
	log       zerolog.Logger
}

type Option func(*Runner)

// WithLease coordinates cycles between replicas.
func WithLease(l Lease) Option {
	return func(r *Runner) {
		r.lease = l
	}
}

func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

func NewRunner(expirer Expirer, interval, olderThan time.Duration, opts ...Option) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	r := &Runner{
		expirer:   expirer,
		interval:  interval,
		olderThan: olderThan,
		clock:     clock.NewSystem(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps once per interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.interval).Dur("older_than", r.olderThan).Msg("sweep: started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error().Err(err).Msg("sweep: cycle failed")
		}
		select {
		case <-ctx.Done():
			r.log.Info().Msg("sweep: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single cycle. With a lease, a cycle already taken by another
// process in the same interval is skipped and returns no orders.
func (r *Runner) RunOnce(ctx context.Context) ([]string, error) {
	var abandoned []string
	cycle := func() error {
		start := time.Now()
		ids, err := r.expirer.ExpireStaleOrders(ctx, r.olderThan)
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
		abandoned = ids
		var failure *domain.StaleOrderSweepFailure
		if errors.As(err, &failure) {
			metrics.SweepErrors.Add(float64(len(failure.Failed)))
		} else if err != nil {
			metrics.SweepErrors.Inc()
		}
		if len(ids) > 0 {
			r.log.Info().Strs("orders", ids).Msg("sweep: abandoned stale orders")
		}
		return err
	}
	if r.lease == nil {
		err := cycle()
		return abandoned, err
	}
	bucket := r.clock.Now().UTC().Truncate(r.interval).Unix()
	err := r.lease.Once(ctx, "sweep:"+strconv.FormatInt(bucket, 10), r.interval, cycle)
	return abandoned, err
}
