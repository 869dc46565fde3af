package domain

import (
	"context"
	"time"
)

// OrderStatus is the state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderAbandoned OrderStatus = "abandoned"
)

// CartItem is one requested slot. ClientPriceCents is optional and only checked against
// the server price.
type CartItem struct {
	NeighborhoodID   string        `json:"neighborhood_id"`
	Date             time.Time     `json:"date"`
	Placement        PlacementType `json:"placement_type"`
	ClientPriceCents *int64        `json:"client_price_cents,omitempty"`
}

// Key returns the slot the item asks for.
func (i CartItem) Key() SlotKey {
	return SlotKey{NeighborhoodID: i.NeighborhoodID, Date: DateOf(i.Date), Placement: i.Placement}
}

// Creative is the advertiser-supplied content of an ad.
type Creative struct {
	Headline string `json:"headline" yaml:"headline"`
	Body     string `json:"body,omitempty" yaml:"body"`
	ImageURL string `json:"image_url,omitempty" yaml:"image_url"`
	ClickURL string `json:"click_url" yaml:"click_url"`
}

// ValidatedLine is a cart item resolved against the directory and price table.
type ValidatedLine struct {
	Item         CartItem     `json:"item"`
	Neighborhood Neighborhood `json:"neighborhood"`
	PriceCents   int64        `json:"price_cents"`
	// Slots are every slot the line reserves: the neighborhood itself and, for combos, each component.
	Slots []SlotKey `json:"slots"`
}

// ValidatedCart is the output of cart validation.
type ValidatedCart struct {
	Lines        []ValidatedLine `json:"lines"`
	ContactEmail string          `json:"contact_email"`
	Creative     Creative        `json:"creative"`
	TotalCents   int64           `json:"total_cents"`
	Currency     string          `json:"currency"`
}

// Order is one purchase.
type Order struct {
	ID                  string      `json:"id"`
	Status              OrderStatus `json:"status"`
	TotalCents          int64       `json:"total_cents"`
	Currency            string      `json:"currency"`
	ContactEmail        string      `json:"contact_email"`
	PaymentSessionID    string      `json:"payment_session_id,omitempty"`
	CheckoutURL         string      `json:"checkout_url,omitempty"`
	NeedsReconciliation bool        `json:"needs_reconciliation"`
	Lines               []OrderLine `json:"lines"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
	PaidAt              *time.Time  `json:"paid_at,omitempty"`
}

// OrderLine is one booked slot within an order.
type OrderLine struct {
	ID               string        `json:"id"`
	OrderID          string        `json:"order_id"`
	NeighborhoodID   string        `json:"neighborhood_id"`
	Date             time.Time     `json:"date"`
	Placement        PlacementType `json:"placement_type"`
	PriceCents       int64         `json:"price_cents"`
	ActivationFailed bool          `json:"activation_failed"`
}

// Key returns the primary slot of the line.
func (l OrderLine) Key() SlotKey {
	return SlotKey{NeighborhoodID: l.NeighborhoodID, Date: DateOf(l.Date), Placement: l.Placement}
}

// CheckoutResult is returned to the buyer after order creation.
type CheckoutResult struct {
	OrderID     string `json:"order_id"`
	TotalCents  int64  `json:"total_cents"`
	Currency    string `json:"currency"`
	CheckoutURL string `json:"checkout_url"`
}

// OrderConfirmation is the outcome of a payment confirmation.
type OrderConfirmation struct {
	Order        Order    `json:"order"`
	AlreadyPaid  bool     `json:"already_paid"`
	ActivatedAds []string `json:"activated_ads,omitempty"`
	// AwaitingReview lists paid ads that activate once approved.
	AwaitingReview []string `json:"awaiting_review,omitempty"`
	FailedLines    []string `json:"failed_lines,omitempty"`
}

// OrderEvent is an audit record of an order transition.
type OrderEvent struct {
	OrderID    string         `json:"order_id"`
	Event      string         `json:"event"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

const (
	EventOrderCreated        = "created"
	EventOrderPaid           = "paid"
	EventOrderAbandoned      = "abandoned"
	EventOrderReconciliation = "reconciliation"
	EventActivationFailed    = "activation_failed"
	EventActivationRetried   = "activation_retried"
)

// OrderRepo stores orders, their lines and the audit trail.
type OrderRepo interface {
	// CreateOrder inserts the order with its lines.
	CreateOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	// LockOrder reads the order with a row lock held until the surrounding transaction ends.
	LockOrder(ctx context.Context, id string) (Order, error)
	GetOrderBySession(ctx context.Context, sessionID string) (Order, error)
	SetPaymentSession(ctx context.Context, orderID, sessionID, checkoutURL string) error
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus, at time.Time) error
	SetNeedsReconciliation(ctx context.Context, orderID string, flag bool) error
	SetLineActivationFailed(ctx context.Context, lineID string, failed bool) error
	// ListStalePending returns pending orders created before cutoff that are not under reconciliation.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
	AppendOrderEvent(ctx context.Context, event OrderEvent) error
}
