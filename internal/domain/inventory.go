package domain

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// SlotState is the state of one inventory slot. A slot without a stored row is open.
type SlotState string

const (
	SlotOpen    SlotState = "open"
	SlotBooked  SlotState = "booked"
	SlotBlocked SlotState = "blocked"
)

// SlotKey identifies one sellable unit.
type SlotKey struct {
	NeighborhoodID string        `json:"neighborhood_id"`
	Date           time.Time     `json:"date"`
	Placement      PlacementType `json:"placement_type"`
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.NeighborhoodID, k.Date.Format(time.DateOnly), k.Placement)
}

// Normalize returns the key with its date truncated to a UTC calendar day.
func (k SlotKey) Normalize() SlotKey {
	k.Date = DateOf(k.Date)
	return k
}

// InventorySlot is a stored slot row.
type InventorySlot struct {
	SlotKey
	State     SlotState `json:"state"`
	OrderID   string    `json:"order_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SlotQuery selects slot rows. Empty fields do not filter.
type SlotQuery struct {
	NeighborhoodIDs []string
	Placement       PlacementType
	From            time.Time
	// To is exclusive.
	To     time.Time
	States []SlotState
}

// Matches applies the query to a single slot.
func (q SlotQuery) Matches(slot InventorySlot) bool {
	if len(q.NeighborhoodIDs) > 0 && !containsString(q.NeighborhoodIDs, slot.NeighborhoodID) {
		return false
	}
	if q.Placement != "" && slot.Placement != q.Placement {
		return false
	}
	if !q.From.IsZero() && slot.Date.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !slot.Date.Before(q.To) {
		return false
	}
	if len(q.States) > 0 {
		for _, st := range q.States {
			if st == slot.State {
				return true
			}
		}
		return false
	}
	return true
}

// SlotKeyLess orders keys by neighborhood, then date, then placement.
func SlotKeyLess(a, b SlotKey) bool {
	if a.NeighborhoodID != b.NeighborhoodID {
		return a.NeighborhoodID < b.NeighborhoodID
	}
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return a.Placement < b.Placement
}

// SortSlotKeys sorts keys with SlotKeyLess. Every writer reserves slots in this order so
// that overlapping carts cannot deadlock.
func SortSlotKeys(keys []SlotKey) {
	sort.Slice(keys, func(i, j int) bool { return SlotKeyLess(keys[i], keys[j]) })
}

// InventoryRepo stores slot state.
type InventoryRepo interface {
	ListSlots(ctx context.Context, q SlotQuery) ([]InventorySlot, error)
	// SlotStates returns the state of every key; keys without a row are open.
	SlotStates(ctx context.Context, keys []SlotKey) (map[SlotKey]SlotState, error)
	// ReserveSlot moves a slot from open to booked for orderID.
	// It returns false when the slot was not open.
	ReserveSlot(ctx context.Context, key SlotKey, orderID string) (bool, error)
	// ReleaseOrderSlots reopens every slot booked by orderID and returns the released keys.
	ReleaseOrderSlots(ctx context.Context, orderID string) ([]SlotKey, error)
	BlockSlot(ctx context.Context, key SlotKey) error
	UnblockSlot(ctx context.Context, key SlotKey) error
}

// Transactor runs fn in a single storage transaction. Nested calls join the outer one.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AvailabilityView is what the booking calendar renders for one month.
type AvailabilityView struct {
	NeighborhoodID string        `json:"neighborhood_id"`
	Placement      PlacementType `json:"placement_type"`
	Month          string        `json:"month"`
	BookedDates    []string      `json:"booked_dates"`
	BlockedDates   []string      `json:"blocked_dates"`
	// SellableDates lists open dates allowed for the placement.
	SellableDates []string `json:"sellable_dates"`
	PriceCents    int64    `json:"price_cents"`
	Tier          int      `json:"tier"`
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
