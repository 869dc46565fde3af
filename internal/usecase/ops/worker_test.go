package ops

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adinventory/internal/domain"
	"adinventory/internal/infra/clock"
	"adinventory/internal/infra/queue"
)

type scriptedRetrier struct {
	results []error
	calls   int
}

func (r *scriptedRetrier) RetryActivation(_ context.Context, orderID string) (domain.OrderConfirmation, error) {
	r.calls++
	if len(r.results) == 0 {
		return domain.OrderConfirmation{}, nil
	}
	err := r.results[0]
	r.results = r.results[1:]
	return domain.OrderConfirmation{}, err
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) NotifyOperators(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func partial(lines ...string) error {
	return &domain.PartialActivationFailure{OrderID: "o1", LineIDs: lines, Cause: errors.New("ad store down")}
}

func newWorker(q *queue.MemoryOpsQueue, r Retrier, n domain.OperatorNotifier, maxAttempts int) *Worker {
	w := NewWorker(q, r, n,
		WithMaxAttempts(maxAttempts),
		WithClock(clock.NewFixed(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))),
	)
	w.sleep = func(context.Context, time.Duration) error { return nil }
	return w
}

func TestActivationRetryRequeuesWithNextAttempt(t *testing.T) {
	q := queue.NewMemoryOpsQueue(4)
	retrier := &scriptedRetrier{results: []error{partial("l2")}}
	notifier := &recordingNotifier{}
	w := newWorker(q, retrier, notifier, 3)

	err := w.Handle(context.Background(), domain.OpsTask{ID: "t1", Kind: domain.OpsActivationRetry, OrderID: "o1", LineIDs: []string{"l1", "l2"}, Attempt: 1})
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())

	next, _, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, []string{"l2"}, next.LineIDs)
	assert.NotEqual(t, "t1", next.ID)
	assert.Empty(t, notifier.texts)
}

func TestActivationRetryGivesUpAfterMaxAttempts(t *testing.T) {
	q := queue.NewMemoryOpsQueue(4)
	notifier := &recordingNotifier{}
	w := newWorker(q, &scriptedRetrier{results: []error{partial("l1")}}, notifier, 3)

	require.NoError(t, w.Handle(context.Background(), domain.OpsTask{Kind: domain.OpsActivationRetry, OrderID: "o1", Attempt: 3}))
	assert.Zero(t, q.Len())
	require.Len(t, notifier.texts, 1)
	assert.Contains(t, notifier.texts[0], "failed 3 times")
}

func TestActivationRetryStoreErrorIsReturned(t *testing.T) {
	q := queue.NewMemoryOpsQueue(4)
	w := newWorker(q, &scriptedRetrier{results: []error{errors.New("connection reset")}}, &recordingNotifier{}, 3)

	err := w.Handle(context.Background(), domain.OpsTask{Kind: domain.OpsActivationRetry, OrderID: "o1", Attempt: 1})
	assert.Error(t, err)
}

func TestOperatorTasksAreForwarded(t *testing.T) {
	notifier := &recordingNotifier{}
	w := newWorker(queue.NewMemoryOpsQueue(1), &scriptedRetrier{}, notifier, 3)
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, domain.OpsTask{Kind: domain.OpsRefund, OrderID: "o9", LineIDs: []string{"l1"}, Reason: "inventory_resold"}))
	require.NoError(t, w.Handle(ctx, domain.OpsTask{Kind: domain.OpsPaymentReconciliation, SessionID: "cs_1", Reason: "unknown_session"}))

	require.Len(t, notifier.texts, 2)
	assert.Contains(t, notifier.texts[0], "Refund required: order o9")
	assert.Contains(t, notifier.texts[0], "lines: l1")
	assert.Contains(t, notifier.texts[1], "order -, session cs_1")
}

func TestRunDrainsQueue(t *testing.T) {
	q := queue.NewMemoryOpsQueue(4)
	notifier := &recordingNotifier{}
	retrier := &scriptedRetrier{}
	w := newWorker(q, retrier, notifier, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, domain.OpsTask{Kind: domain.OpsActivationRetry, OrderID: "o1", Attempt: 1}))
	require.NoError(t, q.Enqueue(ctx, domain.OpsTask{Kind: domain.OpsRefund, OrderID: "o2"}))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.texts) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, q.Len())
}

type failingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *failingNotifier) NotifyOperators(context.Context, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return errors.New("telegram unavailable")
}

func (n *failingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func TestFailingNotificationBacksOffAndGivesUp(t *testing.T) {
	q := queue.NewMemoryOpsQueue(4)
	notifier := &failingNotifier{}
	w := NewWorker(q, &scriptedRetrier{}, notifier,
		WithMaxAttempts(3),
		WithBackoff(30*time.Second),
		WithClock(clock.NewFixed(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))),
	)
	var mu sync.Mutex
	var waits []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, domain.OpsTask{ID: "t1", Kind: domain.OpsPaymentReconciliation, SessionID: "cs_1", Attempt: 1}))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool {
		return notifier.count() == 3 && q.Len() == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 3, notifier.count(), "one delivery per attempt")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second}, waits)
}

func TestFailedTaskIsRequeuedWithDelay(t *testing.T) {
	q := queue.NewMemoryOpsQueue(4)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	w := newWorker(q, &scriptedRetrier{}, &failingNotifier{}, 5)
	w.clock = clock.NewFixed(now)

	settled := w.reschedule(context.Background(), domain.OpsTask{ID: "t1", Kind: domain.OpsRefund, OrderID: "o1", Attempt: 2}, errors.New("boom"))
	require.True(t, settled)
	next, _, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, next.Attempt)
	assert.Equal(t, now, next.CreatedAt)
	assert.NotEqual(t, "t1", next.ID)
}
