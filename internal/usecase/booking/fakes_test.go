package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"adinventory/internal/adapters/memstore"
	"adinventory/internal/domain"
	"adinventory/internal/infra/clock"
	"adinventory/internal/infra/queue"
	"adinventory/internal/usecase/pricing"
)

type fakeGateway struct {
	mu         sync.Mutex
	seq        int
	sessions   map[string]domain.CheckoutSession
	requests   []domain.CheckoutRequest
	expired    []string
	failCreate error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]domain.CheckoutSession)}
}

func (g *fakeGateway) CreateSession(_ context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.failCreate != nil {
		return domain.CheckoutSession{}, g.failCreate
	}
	g.seq++
	id := fmt.Sprintf("cs_test_%d", g.seq)
	sess := domain.CheckoutSession{
		ID:            id,
		URL:           "https://pay.example.test/" + id,
		Status:        domain.SessionOpen,
		PaymentStatus: "unpaid",
		OrderID:       req.OrderID,
		Amount:        req.Amount,
	}
	g.sessions[id] = sess
	return sess, nil
}

func (g *fakeGateway) GetSession(_ context.Context, id string) (domain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[id]
	if !ok {
		return domain.CheckoutSession{}, errors.New("no such session")
	}
	return sess, nil
}

func (g *fakeGateway) ExpireSession(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expired = append(g.expired, id)
	if sess, ok := g.sessions[id]; ok {
		sess.Status = domain.SessionExpired
		g.sessions[id] = sess
	}
	return nil
}

func (g *fakeGateway) markPaid(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess := g.sessions[id]
	sess.Status = domain.SessionComplete
	sess.PaymentStatus = "paid"
	g.sessions[id] = sess
}

func (g *fakeGateway) setAmount(id string, cents int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess := g.sessions[id]
	sess.Amount.Amount = cents
	g.sessions[id] = sess
}

type recordingInvalidator struct {
	mu   sync.Mutex
	keys []domain.SlotKey
}

func (r *recordingInvalidator) Invalidate(_ context.Context, keys []domain.SlotKey) {
	r.mu.Lock()
	r.keys = append(r.keys, keys...)
	r.mu.Unlock()
}

type fixture struct {
	svc     *Service
	store   *memstore.Store
	gateway *fakeGateway
	ops     *queue.MemoryOpsQueue
	clock   *clock.Fixed
	inv     *recordingInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	for _, n := range []domain.Neighborhood{
		{ID: "mission", Name: "Mission", City: "sf", Tier: 1},
		{ID: "soma", Name: "SoMa", City: "sf", Tier: 2},
		{ID: "east-side", Name: "East Side", City: "sf", Tier: 3, IsCombo: true, ComponentIDs: []string{"mission", "soma"}},
	} {
		if err := store.UpsertNeighborhood(ctx, n); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	prices, err := pricing.NewTable(map[int]pricing.TierPrices{
		1: {Daily: 10000, Weekly: 25000},
		2: {Daily: 15000, Weekly: 35000},
		3: {Daily: 20000, Weekly: 50000},
	})
	if err != nil {
		t.Fatalf("prices: %v", err)
	}

	f := &fixture{
		store:   store,
		gateway: newFakeGateway(),
		ops:     queue.NewMemoryOpsQueue(32),
		clock:   clock.NewFixed(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)),
		inv:     &recordingInvalidator{},
	}
	f.svc = NewService(store, store, prices, domain.DefaultCalendar(), f.gateway,
		Config{Currency: "usd", SuccessURL: "https://ads.example.test/orders/{order_id}", SessionTTL: 30 * time.Minute},
		WithClock(f.clock),
		WithOpsQueue(f.ops),
		WithInvalidator(f.inv),
	)
	return f
}

func day(m time.Month, d int) time.Time {
	return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC)
}

func item(id string, date time.Time, placement domain.PlacementType) domain.CartItem {
	return domain.CartItem{NeighborhoodID: id, Date: date, Placement: placement}
}

var testCreative = domain.Creative{Headline: "Fresh bagels", ClickURL: "https://bagels.example.test"}

func (f *fixture) checkout(t *testing.T, items ...domain.CartItem) domain.CheckoutResult {
	t.Helper()
	res, err := f.svc.Checkout(context.Background(), items, "buyer@example.com", testCreative)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return res
}

func (f *fixture) order(t *testing.T, id string) domain.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return o
}

func (f *fixture) slotState(t *testing.T, key domain.SlotKey) domain.SlotState {
	t.Helper()
	states, err := f.store.SlotStates(context.Background(), []domain.SlotKey{key})
	if err != nil {
		t.Fatalf("slot states: %v", err)
	}
	return states[key.Normalize()]
}

func (f *fixture) paidEvent(t *testing.T, orderID string) domain.PaymentEvent {
	t.Helper()
	o := f.order(t, orderID)
	return domain.PaymentEvent{
		EventID:   "evt_" + orderID,
		SessionID: o.PaymentSessionID,
		OrderID:   o.ID,
		Amount:    domain.Money{Amount: o.TotalCents, Currency: o.Currency},
	}
}

func (f *fixture) drainOps(t *testing.T) []domain.OpsTask {
	t.Helper()
	var tasks []domain.OpsTask
	for f.ops.Len() > 0 {
		task, _, err := f.ops.Receive(context.Background())
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		tasks = append(tasks, task)
	}
	return tasks
}
