package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNeighborhoodNotFound is returned when the directory does not know an id.
	ErrNeighborhoodNotFound = errors.New("neighborhood not found")
	// ErrOrderNotFound is returned when an order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrAdNotFound is returned when an ad does not exist.
	ErrAdNotFound = errors.New("ad not found")
	// ErrSessionNotFound is returned when no order carries a payment session id.
	ErrSessionNotFound = errors.New("payment session not found")
	// ErrInvalidTransition is returned when a state machine rejects a move.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrOutOfHorizon is returned for months outside the booking horizon.
	ErrOutOfHorizon = errors.New("month outside booking horizon")
	// ErrEmptyCart is returned when a cart has no items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidEmail is returned for an unusable contact email.
	ErrInvalidEmail = errors.New("invalid contact email")
	// ErrSlotBooked is returned when an administrative block hits a sold slot.
	ErrSlotBooked = errors.New("slot is booked")
	// ErrInvalidCreative is returned when an ad creative lacks required fields.
	ErrInvalidCreative = errors.New("invalid creative")
	// ErrUnknownTier is returned when no price is configured for a tier.
	ErrUnknownTier = errors.New("unknown pricing tier")
)

// Conflict reasons.
const (
	ReasonSlotUnavailable     = "slot_unavailable"
	ReasonWrongWeekday        = "wrong_weekday"
	ReasonUnknownNeighborhood = "unknown_neighborhood"
	ReasonPastDate            = "past_date"
	ReasonOutOfHorizon        = "out_of_horizon"
	ReasonDuplicateItem       = "duplicate_item"
	ReasonInvalidPlacement    = "invalid_placement"
)

// ConflictError names the first cart item that cannot be booked.
type ConflictError struct {
	Item   CartItem
	Reason string
	// Slot is the unavailable slot when it differs from the item, e.g. a combo component.
	Slot *SlotKey
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("cart conflict on %s: %s", e.Item.Key(), e.Reason)
	if e.Slot != nil {
		msg += " (" + e.Slot.String() + ")"
	}
	return msg
}

// PricingMismatchError reports a client price that differs from the server price.
type PricingMismatchError struct {
	Item        CartItem
	ClientCents int64
	ServerCents int64
}

func (e *PricingMismatchError) Error() string {
	return fmt.Sprintf("price mismatch on %s: client %d, server %d", e.Item.Key(), e.ClientCents, e.ServerCents)
}

// PaymentConfirmationError is raised when a processor confirmation cannot be applied.
// The order stays pending until an operator reconciles it.
type PaymentConfirmationError struct {
	SessionID string
	OrderID   string
	Reason    string
}

func (e *PaymentConfirmationError) Error() string {
	return fmt.Sprintf("payment confirmation for session %s (order %s) failed: %s", e.SessionID, e.OrderID, e.Reason)
}

// PartialActivationFailure is raised when a paid order could not activate every ad.
type PartialActivationFailure struct {
	OrderID string
	LineIDs []string
	Cause   error
}

func (e *PartialActivationFailure) Error() string {
	return fmt.Sprintf("order %s paid but activation failed for lines [%s]: %v", e.OrderID, strings.Join(e.LineIDs, ", "), e.Cause)
}

func (e *PartialActivationFailure) Unwrap() error {
	return e.Cause
}

// StaleOrderSweepFailure collects the orders a sweep cycle could not release.
type StaleOrderSweepFailure struct {
	Failed map[string]error
}

func (e *StaleOrderSweepFailure) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	return fmt.Sprintf("stale order sweep failed for %d orders: %s", len(ids), strings.Join(ids, ", "))
}
