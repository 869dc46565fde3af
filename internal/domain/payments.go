package domain

import (
	"context"
	"time"
)

// Money is an amount in minor currency units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CheckoutRequest opens a hosted payment session for an order.
type CheckoutRequest struct {
	OrderID        string
	Amount         Money
	CustomerEmail  string
	Description    string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	ExpiresAt      time.Time
}

// Session statuses reported by the processor.
const (
	SessionOpen     = "open"
	SessionComplete = "complete"
	SessionExpired  = "expired"
)

// CheckoutSession is the processor view of a payment session.
type CheckoutSession struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
	OrderID       string     `json:"order_id"`
	Amount        Money      `json:"amount"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Paid reports whether the processor has captured the money.
func (s CheckoutSession) Paid() bool {
	return s.PaymentStatus == "paid"
}

// PaymentEvent is a processor notification that a session was paid.
type PaymentEvent struct {
	EventID   string
	SessionID string
	OrderID   string
	Amount    Money
}

// PaymentGateway talks to the external payment processor.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	GetSession(ctx context.Context, sessionID string) (CheckoutSession, error)
	ExpireSession(ctx context.Context, sessionID string) error
}
