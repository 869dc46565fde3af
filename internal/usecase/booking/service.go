package booking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"adinventory/internal/domain"
	"adinventory/internal/infra/clock"
	"adinventory/internal/infra/metrics"
	"adinventory/internal/usecase/pricing"
)

// Store is the storage the orchestrator needs. Every method must join the transaction
// carried by ctx when called inside WithTx.
type Store interface {
	domain.Transactor
	domain.InventoryRepo
	domain.OrderRepo
	domain.AdRepo
}

// Invalidator drops cached availability after slots change.
type Invalidator interface {
	Invalidate(ctx context.Context, keys []domain.SlotKey)
}

// Config holds checkout settings.
type Config struct {
	Currency   string
	SuccessURL string
	CancelURL  string
	// SessionTTL bounds the processor session. It matches the sweep timeout.
	SessionTTL time.Duration
	// SweepBatch caps the orders released per sweep cycle.
	SweepBatch int
}

// Service books inventory and drives orders from cart to paid.
type Service struct {
	store       Store
	dir         domain.Directory
	prices      pricing.Table
	cal         domain.Calendar
	gateway     domain.PaymentGateway
	cfg         Config
	clock       clock.Clock
	log         zerolog.Logger
	ops         domain.OpsQueue
	notifier    domain.OperatorNotifier
	invalidator Invalidator
	newID       func() string
}

// Option configures the service.
type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// WithOpsQueue routes reconciliation, refund and retry tasks to operators.
func WithOpsQueue(q domain.OpsQueue) Option {
	return func(s *Service) {
		s.ops = q
	}
}

func WithNotifier(n domain.OperatorNotifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithInvalidator is called with every slot whose state changed.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) {
		s.invalidator = inv
	}
}

// NewService creates the orchestrator.
func NewService(store Store, dir domain.Directory, prices pricing.Table, cal domain.Calendar, gateway domain.PaymentGateway, cfg Config, opts ...Option) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = defaultSweepBatch
	}
	s := &Service{
		store:   store,
		dir:     dir,
		prices:  prices,
		cal:     cal,
		gateway: gateway,
		cfg:     cfg,
		clock:   clock.NewSystem(),
		log:     zerolog.Nop(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateCart checks every item against live slot state and returns the priced cart.
// Items are checked in cart order and the first failing one is reported.
func (s *Service) ValidateCart(ctx context.Context, items []domain.CartItem, contactEmail string) (domain.ValidatedCart, error) {
	return s.resolveCart(ctx, items, contactEmail, true)
}

// resolveCart prices the cart. With live set it also reads the state of every slot;
// CreateOrder skips that because its reservation is the authoritative check.
func (s *Service) resolveCart(ctx context.Context, items []domain.CartItem, contactEmail string, live bool) (domain.ValidatedCart, error) {
	if len(items) == 0 {
		return domain.ValidatedCart{}, domain.ErrEmptyCart
	}
	email, err := normalizeEmail(contactEmail)
	if err != nil {
		return domain.ValidatedCart{}, err
	}

	today := domain.DateOf(s.clock.Now())
	cart := domain.ValidatedCart{ContactEmail: email, Currency: s.cfg.Currency}
	seen := make(map[domain.SlotKey]struct{})
	for _, item := range items {
		item.Date = domain.DateOf(item.Date)
		line, err := s.resolveItem(ctx, item, today)
		if err != nil {
			return domain.ValidatedCart{}, err
		}
		for _, key := range line.Slots {
			if _, dup := seen[key]; dup {
				return domain.ValidatedCart{}, s.conflict(item, domain.ReasonDuplicateItem, key)
			}
			seen[key] = struct{}{}
		}
		if live {
			states, err := s.store.SlotStates(ctx, line.Slots)
			if err != nil {
				return domain.ValidatedCart{}, fmt.Errorf("read slot states: %w", err)
			}
			for _, key := range line.Slots {
				if st, ok := states[key]; ok && st != domain.SlotOpen {
					return domain.ValidatedCart{}, s.conflict(item, domain.ReasonSlotUnavailable, key)
				}
			}
		}
		cart.Lines = append(cart.Lines, line)
		cart.TotalCents += line.PriceCents
	}
	return cart, nil
}

func (s *Service) resolveItem(ctx context.Context, item domain.CartItem, today time.Time) (domain.ValidatedLine, error) {
	if item.Placement != domain.PlacementDaily && item.Placement != domain.PlacementWeekly {
		return domain.ValidatedLine{}, s.conflict(item, domain.ReasonInvalidPlacement)
	}
	n, err := s.dir.GetNeighborhood(ctx, item.NeighborhoodID)
	if errors.Is(err, domain.ErrNeighborhoodNotFound) {
		return domain.ValidatedLine{}, s.conflict(item, domain.ReasonUnknownNeighborhood)
	}
	if err != nil {
		return domain.ValidatedLine{}, fmt.Errorf("get neighborhood %s: %w", item.NeighborhoodID, err)
	}
	if item.Date.Before(today) {
		return domain.ValidatedLine{}, s.conflict(item, domain.ReasonPastDate)
	}
	if !s.cal.InHorizon(today, item.Date) {
		return domain.ValidatedLine{}, s.conflict(item, domain.ReasonOutOfHorizon)
	}
	if !s.cal.Allows(item.Placement, item.Date) {
		return domain.ValidatedLine{}, s.conflict(item, domain.ReasonWrongWeekday)
	}

	price, err := s.prices.ForNeighborhood(n, item.Placement)
	if err != nil {
		return domain.ValidatedLine{}, fmt.Errorf("resolve price: %w", err)
	}
	if item.ClientPriceCents != nil && *item.ClientPriceCents != price {
		metrics.IncConflict("price_mismatch")
		return domain.ValidatedLine{}, &domain.PricingMismatchError{Item: item, ClientCents: *item.ClientPriceCents, ServerCents: price}
	}

	line := domain.ValidatedLine{Item: item, Neighborhood: n, PriceCents: price}
	for _, id := range n.ExposureIDs() {
		line.Slots = append(line.Slots, domain.SlotKey{NeighborhoodID: id, Date: item.Date, Placement: item.Placement})
	}
	return line, nil
}

func (s *Service) conflict(item domain.CartItem, reason string, slot ...domain.SlotKey) error {
	metrics.IncConflict(reason)
	err := &domain.ConflictError{Item: item, Reason: reason}
	if len(slot) > 0 && slot[0] != item.Key() {
		key := slot[0]
		err.Slot = &key
	}
	return err
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || !strings.Contains(addr.Address, "@") {
		return "", domain.ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

// Checkout validates the cart and creates the order in one call.
func (s *Service) Checkout(ctx context.Context, items []domain.CartItem, contactEmail string, creative domain.Creative) (domain.CheckoutResult, error) {
	cart, err := s.ValidateCart(ctx, items, contactEmail)
	if err != nil {
		metrics.CheckoutsTotal.WithLabelValues("rejected").Inc()
		return domain.CheckoutResult{}, err
	}
	cart.Creative = creative
	return s.CreateOrder(ctx, cart)
}

// CreateOrder reserves every slot of the cart and opens a payment session. Prices are
// resolved again on the server; the prices carried by cart are ignored.
func (s *Service) CreateOrder(ctx context.Context, cart domain.ValidatedCart) (domain.CheckoutResult, error) {
	items := make([]domain.CartItem, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		items = append(items, line.Item)
	}
	resolved, err := s.resolveCart(ctx, items, cart.ContactEmail, false)
	if err != nil {
		metrics.CheckoutsTotal.WithLabelValues("rejected").Inc()
		return domain.CheckoutResult{}, err
	}
	if strings.TrimSpace(cart.Creative.Headline) == "" || strings.TrimSpace(cart.Creative.ClickURL) == "" {
		metrics.CheckoutsTotal.WithLabelValues("rejected").Inc()
		return domain.CheckoutResult{}, fmt.Errorf("%w: headline and click url are required", domain.ErrInvalidCreative)
	}
	resolved.Creative = cart.Creative

	now := s.clock.Now().UTC()
	order := s.buildOrder(resolved, now)

	var reserved []domain.SlotKey
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		// Slots reference their order, so the order row goes first.
		if err := s.store.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		reserved, err = s.reserve(ctx, order.ID, resolved.Lines)
		if err != nil {
			return err
		}
		for i, line := range resolved.Lines {
			ad := domain.Ad{
				ID:             s.newID(),
				OrderID:        order.ID,
				OrderLineID:    order.Lines[i].ID,
				NeighborhoodID: line.Neighborhood.ID,
				Placement:      line.Item.Placement,
				Status:         domain.AdPendingReview,
				Targeting:      domain.Targeting{NeighborhoodIDs: line.Neighborhood.ExposureIDs(), City: line.Neighborhood.City},
				Creative:       resolved.Creative,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.store.CreateAd(ctx, ad); err != nil {
				return fmt.Errorf("create ad: %w", err)
			}
		}
		return s.store.AppendOrderEvent(ctx, domain.OrderEvent{
			OrderID:    order.ID,
			Event:      domain.EventOrderCreated,
			Details:    map[string]any{"total_cents": order.TotalCents, "lines": len(order.Lines)},
			OccurredAt: now,
		})
	})
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			metrics.CheckoutsTotal.WithLabelValues("conflict").Inc()
		} else {
			metrics.CheckoutsTotal.WithLabelValues("error").Inc()
		}
		return domain.CheckoutResult{}, err
	}
	s.invalidate(ctx, reserved)
	metrics.IncOrderTransition(string(domain.OrderPending))

	session, err := s.gateway.CreateSession(ctx, domain.CheckoutRequest{
		OrderID:        order.ID,
		Amount:         domain.Money{Amount: order.TotalCents, Currency: order.Currency},
		CustomerEmail:  order.ContactEmail,
		Description:    describe(resolved),
		SuccessURL:     withOrder(s.cfg.SuccessURL, order.ID),
		CancelURL:      withOrder(s.cfg.CancelURL, order.ID),
		IdempotencyKey: order.ID,
		ExpiresAt:      now.Add(s.cfg.SessionTTL),
	})
	if err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID).Msg("payment session failed, abandoning order")
		metrics.CheckoutsTotal.WithLabelValues("payment_error").Inc()
		if _, abandonErr := s.abandon(ctx, order.ID, "payment_session_failed", nil); abandonErr != nil {
			s.log.Error().Err(abandonErr).Str("order_id", order.ID).Msg("release after payment failure")
		}
		return domain.CheckoutResult{}, fmt.Errorf("open payment session: %w", err)
	}
	if err := s.store.SetPaymentSession(ctx, order.ID, session.ID, session.URL); err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID).Str("session_id", session.ID).Msg("store payment session")
		if expErr := s.gateway.ExpireSession(ctx, session.ID); expErr != nil {
			s.log.Warn().Err(expErr).Str("session_id", session.ID).Msg("expire orphaned session")
		}
		if _, abandonErr := s.abandon(ctx, order.ID, "payment_session_failed", nil); abandonErr != nil {
			s.log.Error().Err(abandonErr).Str("order_id", order.ID).Msg("release after session store failure")
		}
		metrics.CheckoutsTotal.WithLabelValues("error").Inc()
		return domain.CheckoutResult{}, fmt.Errorf("store payment session: %w", err)
	}

	metrics.CheckoutsTotal.WithLabelValues("created").Inc()
	s.log.Info().
		Str("order_id", order.ID).
		Int64("total_cents", order.TotalCents).
		Int("lines", len(order.Lines)).
		Msg("order created")
	return domain.CheckoutResult{
		OrderID:     order.ID,
		TotalCents:  order.TotalCents,
		Currency:    order.Currency,
		CheckoutURL: session.URL,
	}, nil
}

func (s *Service) buildOrder(cart domain.ValidatedCart, now time.Time) domain.Order {
	order := domain.Order{
		ID:           s.newID(),
		Status:       domain.OrderPending,
		TotalCents:   cart.TotalCents,
		Currency:     cart.Currency,
		ContactEmail: cart.ContactEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, line := range cart.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:             s.newID(),
			OrderID:        order.ID,
			NeighborhoodID: line.Neighborhood.ID,
			Date:           line.Item.Date,
			Placement:      line.Item.Placement,
			PriceCents:     line.PriceCents,
		})
	}
	return order
}

// reserve books every slot of lines in SortSlotKeys order. Any miss aborts the
// surrounding transaction with a conflict naming the owning item.
func (s *Service) reserve(ctx context.Context, orderID string, lines []domain.ValidatedLine) ([]domain.SlotKey, error) {
	owner := make(map[domain.SlotKey]domain.CartItem)
	var keys []domain.SlotKey
	for _, line := range lines {
		for _, key := range line.Slots {
			owner[key] = line.Item
			keys = append(keys, key)
		}
	}
	domain.SortSlotKeys(keys)
	for _, key := range keys {
		ok, err := s.store.ReserveSlot(ctx, key, orderID)
		if err != nil {
			return nil, fmt.Errorf("reserve %s: %w", key, err)
		}
		if !ok {
			return nil, s.conflict(owner[key], domain.ReasonSlotUnavailable, key)
		}
	}
	return keys, nil
}

func (s *Service) invalidate(ctx context.Context, keys []domain.SlotKey) {
	if s.invalidator == nil || len(keys) == 0 {
		return
	}
	s.invalidator.Invalidate(ctx, keys)
}

func describe(cart domain.ValidatedCart) string {
	parts := make([]string, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		parts = append(parts, fmt.Sprintf("%s %s %s", line.Neighborhood.Name, line.Item.Placement, line.Item.Date.Format(time.DateOnly)))
	}
	return "Sponsorship: " + strings.Join(parts, ", ")
}

func withOrder(rawURL, orderID string) string {
	if rawURL == "" {
		return ""
	}
	return strings.ReplaceAll(rawURL, "{order_id}", orderID)
}
