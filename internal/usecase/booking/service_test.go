package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"adinventory/internal/domain"
)

func TestCheckoutTotalsServerPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.checkout(t,
		item("mission", day(11, 3), domain.PlacementDaily),
		item("soma", day(11, 3), domain.PlacementDaily),
	)
	if res.TotalCents != 25000 {
		t.Fatalf("total = %d, want 25000", res.TotalCents)
	}
	if res.CheckoutURL == "" {
		t.Fatalf("no checkout url")
	}

	order := f.order(t, res.OrderID)
	if order.Status != domain.OrderPending || len(order.Lines) != 2 || order.PaymentSessionID == "" {
		t.Fatalf("unexpected order: %+v", order)
	}
	for _, line := range order.Lines {
		ad, err := f.store.GetAdByLine(ctx, line.ID)
		if err != nil {
			t.Fatalf("ad for line %s: %v", line.ID, err)
		}
		if ad.Status != domain.AdPendingReview || ad.Creative != testCreative || ad.OrderID != order.ID {
			t.Fatalf("unexpected ad: %+v", ad)
		}
		if f.slotState(t, line.Key()) != domain.SlotBooked {
			t.Fatalf("slot %s not booked", line.Key())
		}
	}

	req := f.gateway.requests[0]
	if req.Amount.Amount != 25000 || req.OrderID != order.ID || req.IdempotencyKey != order.ID {
		t.Fatalf("unexpected checkout request: %+v", req)
	}
	if req.SuccessURL != "https://ads.example.test/orders/"+order.ID {
		t.Fatalf("success url = %s", req.SuccessURL)
	}
}

func TestCheckoutIgnoresClientPricesWhenTheyMatch(t *testing.T) {
	f := newFixture(t)
	price := int64(10000)
	it := item("mission", day(11, 3), domain.PlacementDaily)
	it.ClientPriceCents = &price

	res := f.checkout(t, it)
	if res.TotalCents != 10000 {
		t.Fatalf("total = %d", res.TotalCents)
	}
}

func TestValidateCartRejectsClientPriceMismatch(t *testing.T) {
	f := newFixture(t)
	price := int64(500)
	it := item("soma", day(11, 3), domain.PlacementDaily)
	it.ClientPriceCents = &price

	_, err := f.svc.ValidateCart(context.Background(), []domain.CartItem{it}, "buyer@example.com")
	var mismatch *domain.PricingMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected PricingMismatchError, got %v", err)
	}
	if mismatch.ServerCents != 15000 || mismatch.ClientCents != 500 {
		t.Fatalf("unexpected mismatch: %+v", mismatch)
	}
}

func TestConcurrentCheckoutsBookSlotOnce(t *testing.T) {
	f := newFixture(t)
	const buyers = 24
	target := item("soma", day(11, 10), domain.PlacementDaily)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Checkout(context.Background(), []domain.CartItem{target}, "buyer@example.com", testCreative)
			mu.Lock()
			defer mu.Unlock()
			var conflict *domain.ConflictError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &conflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if succeeded != 1 || conflicts != buyers-1 {
		t.Fatalf("succeeded=%d conflicts=%d", succeeded, conflicts)
	}
}

func TestValidateCartReasons(t *testing.T) {
	cases := []struct {
		name   string
		items  []domain.CartItem
		reason string
		index  int
	}{
		{
			name:   "weekly on wrong weekday",
			items:  []domain.CartItem{item("mission", day(11, 4), domain.PlacementWeekly)},
			reason: domain.ReasonWrongWeekday,
		},
		{
			name:   "daily on weekly day",
			items:  []domain.CartItem{item("mission", day(11, 1), domain.PlacementDaily)},
			reason: domain.ReasonWrongWeekday,
		},
		{
			name:   "unknown neighborhood",
			items:  []domain.CartItem{item("atlantis", day(11, 3), domain.PlacementDaily)},
			reason: domain.ReasonUnknownNeighborhood,
		},
		{
			name:   "past date",
			items:  []domain.CartItem{item("mission", day(10, 13), domain.PlacementDaily)},
			reason: domain.ReasonPastDate,
		},
		{
			name:   "beyond horizon",
			items:  []domain.CartItem{item("mission", time.Date(2027, 6, 2, 0, 0, 0, 0, time.UTC), domain.PlacementDaily)},
			reason: domain.ReasonOutOfHorizon,
		},
		{
			name: "duplicate slot",
			items: []domain.CartItem{
				item("mission", day(11, 3), domain.PlacementDaily),
				item("mission", day(11, 3), domain.PlacementDaily),
			},
			reason: domain.ReasonDuplicateItem,
			index:  1,
		},
		{
			name: "combo overlaps component in same cart",
			items: []domain.CartItem{
				item("soma", day(11, 3), domain.PlacementDaily),
				item("east-side", day(11, 3), domain.PlacementDaily),
			},
			reason: domain.ReasonDuplicateItem,
			index:  1,
		},
		{
			name:   "unknown placement",
			items:  []domain.CartItem{item("mission", day(11, 3), "monthly")},
			reason: domain.ReasonInvalidPlacement,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.ValidateCart(context.Background(), tc.items, "buyer@example.com")
			var conflict *domain.ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("expected ConflictError, got %v", err)
			}
			if conflict.Reason != tc.reason {
				t.Fatalf("reason = %s, want %s", conflict.Reason, tc.reason)
			}
			if conflict.Item.NeighborhoodID != tc.items[tc.index].NeighborhoodID {
				t.Fatalf("named item %+v, want index %d", conflict.Item, tc.index)
			}
		})
	}
}

func TestValidateCartNamesFirstFailingItem(t *testing.T) {
	f := newFixture(t)
	f.checkout(t, item("soma", day(11, 3), domain.PlacementDaily))

	items := []domain.CartItem{
		item("mission", day(11, 3), domain.PlacementDaily),
		item("soma", day(11, 3), domain.PlacementDaily),
		item("mission", day(11, 4), domain.PlacementWeekly),
	}
	_, err := f.svc.ValidateCart(context.Background(), items, "buyer@example.com")
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Item.NeighborhoodID != "soma" || conflict.Reason != domain.ReasonSlotUnavailable {
		t.Fatalf("unexpected conflict: %v", conflict)
	}
}

func TestValidateCartInputErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.ValidateCart(ctx, nil, "buyer@example.com"); !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("empty cart: %v", err)
	}
	items := []domain.CartItem{item("mission", day(11, 3), domain.PlacementDaily)}
	if _, err := f.svc.ValidateCart(ctx, items, "not-an-email"); !errors.Is(err, domain.ErrInvalidEmail) {
		t.Fatalf("bad email: %v", err)
	}
	cart, err := f.svc.ValidateCart(ctx, items, " Buyer <Buyer@Example.com> ")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cart.ContactEmail != "buyer@example.com" {
		t.Fatalf("email = %s", cart.ContactEmail)
	}
}

func TestComboCheckoutReservesComponents(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, item("east-side", day(11, 3), domain.PlacementDaily))
	if res.TotalCents != 20000 {
		t.Fatalf("combo priced at %d, want tier 3 daily", res.TotalCents)
	}
	for _, id := range []string{"east-side", "mission", "soma"} {
		key := domain.SlotKey{NeighborhoodID: id, Date: day(11, 3), Placement: domain.PlacementDaily}
		if f.slotState(t, key) != domain.SlotBooked {
			t.Fatalf("%s not booked", key)
		}
	}

	_, err := f.svc.ValidateCart(context.Background(), []domain.CartItem{item("mission", day(11, 3), domain.PlacementDaily)}, "other@example.com")
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) || conflict.Reason != domain.ReasonSlotUnavailable {
		t.Fatalf("component should be unavailable, got %v", err)
	}
}

func TestComboConflictNamesComponentSlot(t *testing.T) {
	f := newFixture(t)
	f.checkout(t, item("mission", day(11, 3), domain.PlacementDaily))

	_, err := f.svc.Checkout(context.Background(), []domain.CartItem{item("east-side", day(11, 3), domain.PlacementDaily)}, "buyer@example.com", testCreative)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Item.NeighborhoodID != "east-side" || conflict.Slot == nil || conflict.Slot.NeighborhoodID != "mission" {
		t.Fatalf("unexpected conflict: %v", conflict)
	}
	key := domain.SlotKey{NeighborhoodID: "east-side", Date: day(11, 3), Placement: domain.PlacementDaily}
	if f.slotState(t, key) != domain.SlotOpen {
		t.Fatalf("combo slot leaked a reservation")
	}
}

func TestCreateOrderRollsBackOnLateConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := []domain.CartItem{
		item("mission", day(11, 3), domain.PlacementDaily),
		item("soma", day(11, 3), domain.PlacementDaily),
	}
	cart, err := f.svc.ValidateCart(ctx, items, "buyer@example.com")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	cart.Creative = testCreative

	// soma sells between validation and commit.
	f.checkout(t, item("soma", day(11, 3), domain.PlacementDaily))

	_, err = f.svc.CreateOrder(ctx, cart)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) || conflict.Item.NeighborhoodID != "soma" {
		t.Fatalf("expected conflict on soma, got %v", err)
	}
	if f.slotState(t, items[0].Key()) != domain.SlotOpen {
		t.Fatalf("mission should have been rolled back")
	}
}

func TestGatewayFailureReleasesSlots(t *testing.T) {
	f := newFixture(t)
	f.gateway.failCreate = errors.New("processor down")
	it := item("mission", day(11, 3), domain.PlacementDaily)

	if _, err := f.svc.Checkout(context.Background(), []domain.CartItem{it}, "buyer@example.com", testCreative); err == nil {
		t.Fatalf("expected error")
	}
	if f.slotState(t, it.Key()) != domain.SlotOpen {
		t.Fatalf("slot still held after gateway failure")
	}

	f.gateway.failCreate = nil
	f.checkout(t, it)
}

func TestBlockedSlotIsNotSellable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := item("mission", day(11, 5), domain.PlacementDaily)

	if err := f.svc.BlockSlot(ctx, it.Key()); err != nil {
		t.Fatalf("block: %v", err)
	}
	_, err := f.svc.ValidateCart(ctx, []domain.CartItem{it}, "buyer@example.com")
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on blocked slot, got %v", err)
	}
	if err := f.svc.UnblockSlot(ctx, it.Key()); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	f.checkout(t, it)
	if err := f.svc.BlockSlot(ctx, it.Key()); !errors.Is(err, domain.ErrSlotBooked) {
		t.Fatalf("blocking a booked slot: %v", err)
	}
	if len(f.inv.keys) == 0 {
		t.Fatalf("availability was not invalidated")
	}
}

func TestComboCheckoutSlotsReferenceStoredOrder(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, item("east-side", day(11, 3), domain.PlacementDaily))

	order := f.order(t, res.OrderID)
	slots, err := f.store.ListSlots(context.Background(), domain.SlotQuery{})
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("combo should book itself and two components, got %+v", slots)
	}
	for _, slot := range slots {
		if slot.OrderID != order.ID || slot.State != domain.SlotBooked {
			t.Fatalf("slot %s = %s owned by %q, want booked by %s", slot.SlotKey, slot.State, slot.OrderID, order.ID)
		}
	}
}
