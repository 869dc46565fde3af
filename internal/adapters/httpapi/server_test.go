package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adinventory/internal/adapters/memstore"
	"adinventory/internal/adapters/payments"
	"adinventory/internal/domain"
	"adinventory/internal/infra/clock"
	"adinventory/internal/infra/queue"
	"adinventory/internal/usecase/availability"
	"adinventory/internal/usecase/booking"
	"adinventory/internal/usecase/feed"
	"adinventory/internal/usecase/pricing"
)

const (
	testAdminToken = "admin-secret"
	testWebhookKey = "whsec_test"
)

type apiFixture struct {
	handler http.Handler
	store   *memstore.Store
	sandbox *payments.Sandbox
	clock   *clock.Fixed
	ops     *queue.MemoryOpsQueue
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	for _, n := range []domain.Neighborhood{
		{ID: "mission", Name: "Mission", City: "sf", Tier: 1},
		{ID: "soma", Name: "SoMa", City: "sf", Tier: 2},
		{ID: "east-side", Name: "East Side", City: "sf", Tier: 3, IsCombo: true, ComponentIDs: []string{"mission", "soma"}},
	} {
		require.NoError(t, store.UpsertNeighborhood(ctx, n))
	}
	prices, err := pricing.NewTable(map[int]pricing.TierPrices{
		1: {Daily: 10000, Weekly: 25000},
		2: {Daily: 15000, Weekly: 35000},
		3: {Daily: 20000, Weekly: 50000},
	})
	require.NoError(t, err)

	fixed := clock.NewFixed(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	cal := domain.DefaultCalendar()
	sandbox := payments.NewSandbox("http://localhost:8080")
	ops := queue.NewMemoryOpsQueue(16)

	avail := availability.NewService(store, store, prices, cal, availability.WithClock(fixed))
	bookingSvc := booking.NewService(store, store, prices, cal, sandbox, booking.Config{Currency: "usd"},
		booking.WithClock(fixed),
		booking.WithOpsQueue(ops),
		booking.WithInvalidator(avail),
	)
	feedSvc := feed.NewService(store, store, feed.NewSelector(store, nil, zerolog.Nop(), feed.WithSelectorClock(fixed)), 3, fixed, zerolog.Nop())

	srv := NewServer(bookingSvc, avail, feedSvc,
		WithClock(fixed),
		WithAdminToken(testAdminToken),
		WithWebhookSecret(testWebhookKey, 5*time.Minute),
		WithSandbox(sandbox),
	)
	return &apiFixture{handler: srv.Router(), store: store, sandbox: sandbox, clock: fixed, ops: ops}
}

func (f *apiFixture) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) admin(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	return f.do(t, method, target, body, "Authorization", "Bearer "+testAdminToken)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func checkoutBody(items ...cartItemRequest) cartRequest {
	return cartRequest{
		Items:        items,
		ContactEmail: "Owner@Example.com",
		Creative:     domain.Creative{Headline: "Fresh bagels", ClickURL: "https://bagels.example.test"},
	}
}

func (f *apiFixture) checkout(t *testing.T, items ...cartItemRequest) domain.CheckoutResult {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/checkout", checkoutBody(items...))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.CheckoutResult](t, rec)
}

func (f *apiFixture) webhook(t *testing.T, sessionID, orderID string, amount int64) *httptest.ResponseRecorder {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"id":"evt_%s","type":"checkout.session.completed","data":{"object":{
		"id":%q,"payment_status":"paid","status":"complete","amount_total":%d,"currency":"usd",
		"client_reference_id":%q}}}`, sessionID, sessionID, amount, orderID))
	header := payments.SignatureHeader(body, testWebhookKey, f.clock.Now())
	return f.do(t, http.MethodPost, "/api/v1/payments/webhook", body, signatureHeader, header)
}

func TestCheckoutBooksSlotAndShowsInAvailability(t *testing.T) {
	f := newAPI(t)
	res := f.checkout(t, cartItemRequest{NeighborhoodID: "east-side", Date: "2026-11-01", Placement: "weekly"})
	assert.Equal(t, int64(50000), res.TotalCents)
	assert.Contains(t, res.CheckoutURL, "/sandbox/checkout/")

	rec := f.do(t, http.MethodGet, "/api/v1/neighborhoods/mission/availability?placement=weekly&month=2026-11", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[domain.AvailabilityView](t, rec)
	assert.Contains(t, view.BookedDates, "2026-11-01")
	assert.NotContains(t, view.SellableDates, "2026-11-01")

	rec = f.do(t, http.MethodPost, "/api/v1/checkout", checkoutBody(cartItemRequest{NeighborhoodID: "mission", Date: "2026-11-01", Placement: "weekly"}))
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[errorResponse](t, rec)
	assert.Equal(t, domain.ReasonSlotUnavailable, conflict.Code)
}

func TestValidateCartErrors(t *testing.T) {
	f := newAPI(t)
	wrong := int64(1)
	cases := []struct {
		name string
		item cartItemRequest
		code int
		want string
	}{
		{"price mismatch", cartItemRequest{NeighborhoodID: "soma", Date: "2026-11-03", Placement: "daily", ClientPriceCents: &wrong}, http.StatusConflict, "pricing_mismatch"},
		{"weekly on tuesday", cartItemRequest{NeighborhoodID: "soma", Date: "2026-11-03", Placement: "weekly"}, http.StatusConflict, domain.ReasonWrongWeekday},
		{"unknown neighborhood", cartItemRequest{NeighborhoodID: "atlantis", Date: "2026-11-03", Placement: "daily"}, http.StatusConflict, domain.ReasonUnknownNeighborhood},
		{"bad date", cartItemRequest{NeighborhoodID: "soma", Date: "11/03/2026", Placement: "daily"}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/cart/validate", cartRequest{Items: []cartItemRequest{tc.item}, ContactEmail: "a@b.test"})
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Equal(t, tc.want, decode[errorResponse](t, rec).Code)
		})
	}

	rec := f.do(t, http.MethodPost, "/api/v1/cart/validate", cartRequest{
		Items:        []cartItemRequest{{NeighborhoodID: "soma", Date: "2026-11-03", Placement: "daily"}},
		ContactEmail: "a@b.test",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decode[validateCartResponse](t, rec)
	assert.Equal(t, int64(15000), cart.TotalCents)
	assert.Equal(t, []string{"soma/2026-11-03/daily"}, cart.Lines[0].Slots)
}

func TestWebhookPaysOrderAndApprovalActivatesAd(t *testing.T) {
	f := newAPI(t)
	res := f.checkout(t, cartItemRequest{NeighborhoodID: "mission", Date: "2026-11-01", Placement: "weekly"})
	sessionID := path.Base(res.CheckoutURL)

	rec := f.webhook(t, sessionID, res.OrderID, 25000)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	conf := decode[confirmationResponse](t, rec)
	assert.Equal(t, string(domain.OrderPaid), conf.Status)
	require.Len(t, conf.AwaitingReview, 1)

	again := decode[confirmationResponse](t, f.webhook(t, sessionID, res.OrderID, 25000))
	assert.True(t, again.AlreadyPaid)

	rec = f.do(t, http.MethodGet, "/api/v1/orders/"+res.OrderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[orderStatusResponse](t, rec)
	assert.Equal(t, string(domain.OrderPaid), status.Status)
	assert.Equal(t, []orderLineResponse{{NeighborhoodID: "mission", Date: "2026-11-01", Placement: "weekly", PriceCents: 25000}}, status.Lines)

	story := decode[domain.StoryPlacement](t, f.do(t, http.MethodGet, "/api/v1/feed/mission/story?date=2026-11-03", nil))
	assert.Equal(t, domain.FeedHouseAd, story.Top.Kind, "unapproved ads are not delivered")

	rec = f.admin(t, http.MethodPost, "/api/v1/admin/ads/"+conf.AwaitingReview[0]+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.AdActive, decode[domain.Ad](t, rec).Status)

	story = decode[domain.StoryPlacement](t, f.do(t, http.MethodGet, "/api/v1/feed/mission/story?date=2026-11-03", nil))
	require.Equal(t, domain.FeedPaidAd, story.Top.Kind)
	assert.Equal(t, "Fresh bagels", story.Top.Ad.Creative.Headline)

	rec = f.do(t, http.MethodPost, "/api/v1/feed/mission", injectRequest{
		Date:    "2026-11-05",
		Content: []domain.ContentItem{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items := decode[injectResponse](t, rec).Items
	require.Len(t, items, 5)
	assert.Equal(t, domain.FeedPaidAd, items[3].Kind)
}

func TestWebhookRejectsBadSignatureAndEscalatesMismatch(t *testing.T) {
	f := newAPI(t)
	res := f.checkout(t, cartItemRequest{NeighborhoodID: "soma", Date: "2026-11-03", Placement: "daily"})
	sessionID := path.Base(res.CheckoutURL)

	rec := f.do(t, http.MethodPost, "/api/v1/payments/webhook", []byte(`{"type":"checkout.session.completed"}`), signatureHeader, "t=1,v1=00")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.webhook(t, sessionID, res.OrderID, 100)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[confirmationResponse](t, rec)
	assert.Equal(t, "needs_reconciliation", resp.Status)
	assert.Equal(t, booking.ReasonAmountMismatch, resp.Reason)
	assert.Equal(t, 1, f.ops.Len())

	rec = f.do(t, http.MethodGet, "/api/v1/orders/"+res.OrderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, statusProcessing, decode[orderStatusResponse](t, rec).Status)
	assert.NotContains(t, rec.Body.String(), "needs_reconciliation")
	assert.NotContains(t, rec.Body.String(), "payment_session_id")

	rec = f.admin(t, http.MethodPost, "/api/v1/admin/orders/"+res.OrderID+"/confirm", confirmRequest{Operator: "dana"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(domain.OrderPaid), decode[confirmationResponse](t, rec).Status)
}

func TestSandboxPay(t *testing.T) {
	f := newAPI(t)
	res := f.checkout(t, cartItemRequest{NeighborhoodID: "soma", Date: "2026-11-03", Placement: "daily"})

	rec := f.do(t, http.MethodPost, "/sandbox/checkout/"+path.Base(res.CheckoutURL), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(domain.OrderPaid), decode[confirmationResponse](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/sandbox/checkout/cs_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newAPI(t)
	slot := slotRequest{NeighborhoodID: "mission", Date: "2026-11-04", Placement: "daily"}

	rec := f.do(t, http.MethodPost, "/api/v1/admin/slots/block", slot)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/admin/slots/block", slot, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.admin(t, http.MethodPost, "/api/v1/admin/slots/block", slot)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/v1/checkout", checkoutBody(cartItemRequest{NeighborhoodID: "mission", Date: "2026-11-04", Placement: "daily"}))
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.admin(t, http.MethodPost, "/api/v1/admin/slots/unblock", slot)
	require.Equal(t, http.StatusOK, rec.Code)
	f.checkout(t, cartItemRequest{NeighborhoodID: "mission", Date: "2026-11-04", Placement: "daily"})

	rec = f.admin(t, http.MethodPost, "/api/v1/admin/slots/block", slotRequest{NeighborhoodID: "mission", Date: "2026-11-04", Placement: "hourly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ReasonInvalidPlacement, decode[errorResponse](t, rec).Code)

	rec = f.admin(t, http.MethodPost, "/api/v1/admin/ads", sponsorAdRequest{
		Start:    "2026-11-01",
		End:      "2026-11-30",
		Creative: domain.Creative{Headline: "City festival", ClickURL: "https://fest.example.test"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sponsor := decode[domain.Ad](t, rec)
	assert.True(t, sponsor.Global())

	rec = f.admin(t, http.MethodPost, "/api/v1/admin/ads/"+sponsor.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.AdPaused, decode[domain.Ad](t, rec).Status)

	rec = f.admin(t, http.MethodPost, "/api/v1/admin/ads/"+sponsor.ID+"/explode", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.admin(t, http.MethodPost, "/api/v1/admin/ads/missing/approve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminSweepReleasesStaleOrders(t *testing.T) {
	f := newAPI(t)
	res := f.checkout(t, cartItemRequest{NeighborhoodID: "soma", Date: "2026-11-03", Placement: "daily"})

	rec := f.admin(t, http.MethodPost, "/api/v1/admin/orders/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[sweepResponse](t, rec).Abandoned)

	f.clock.Advance(45 * time.Minute)
	rec = f.admin(t, http.MethodPost, "/api/v1/admin/orders/sweep", sweepRequest{OlderThan: "30m"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{res.OrderID}, decode[sweepResponse](t, rec).Abandoned)

	rec = f.admin(t, http.MethodPost, "/api/v1/admin/orders/"+res.OrderID+"/retry-activation", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSandboxPayForResoldOrderStaysGeneric(t *testing.T) {
	f := newAPI(t)
	ctx := context.Background()
	item := cartItemRequest{NeighborhoodID: "soma", Date: "2026-11-03", Placement: "daily"}
	first := f.checkout(t, item)

	require.NoError(t, f.store.UpdateOrderStatus(ctx, first.OrderID, domain.OrderAbandoned, f.clock.Now()))
	_, err := f.store.ReleaseOrderSlots(ctx, first.OrderID)
	require.NoError(t, err)
	f.checkout(t, item)

	rec := f.do(t, http.MethodPost, "/sandbox/checkout/"+path.Base(first.CheckoutURL), nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[confirmationResponse](t, rec)
	assert.Equal(t, statusProcessing, resp.Status)
	assert.Equal(t, first.OrderID, resp.OrderID)
	assert.Empty(t, resp.Reason)
	assert.NotContains(t, rec.Body.String(), booking.ReasonInventoryResold)
	assert.Equal(t, 1, f.ops.Len(), "refund task queued")
}

func TestBuyerOrderHidesActivationFailures(t *testing.T) {
	order := domain.Order{
		ID:         "o1",
		Status:     domain.OrderPaid,
		TotalCents: 10000,
		Currency:   "usd",
		Lines: []domain.OrderLine{
			{ID: "l1", NeighborhoodID: "mission", Date: time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC), Placement: domain.PlacementDaily, PriceCents: 10000, ActivationFailed: true},
		},
	}
	resp := buyerOrder(order)
	assert.Equal(t, statusProcessing, resp.Status)

	order.Lines[0].ActivationFailed = false
	assert.Equal(t, string(domain.OrderPaid), buyerOrder(order).Status)

	data, err := json.Marshal(buyerOrder(order))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "activation_failed")
}
