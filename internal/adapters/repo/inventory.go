package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"adinventory/internal/domain"
	"adinventory/internal/infra/metrics"
)

const slotColumns = `neighborhood_id, date, placement_type, state, COALESCE(order_id::text, ''), updated_at`

func scanSlot(row pgx.Row) (domain.InventorySlot, error) {
	var (
		slot      domain.InventorySlot
		placement string
		state     string
	)
	if err := row.Scan(&slot.NeighborhoodID, &slot.Date, &placement, &state, &slot.OrderID, &slot.UpdatedAt); err != nil {
		return domain.InventorySlot{}, err
	}
	slot.Placement = domain.PlacementType(placement)
	slot.State = domain.SlotState(state)
	slot.SlotKey = slot.SlotKey.Normalize()
	return slot, nil
}

// ListSlots selects slot rows matching q. Every predicate is a bound parameter.
func (p *Postgres) ListSlots(ctx context.Context, q domain.SlotQuery) ([]domain.InventorySlot, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	states := make([]string, 0, len(q.States))
	for _, st := range q.States {
		states = append(states, string(st))
	}
	ids := q.NeighborhoodIDs
	if ids == nil {
		ids = []string{}
	}

	start := time.Now()
	rows, err := p.db(ctx).Query(ctx, `
SELECT `+slotColumns+`
FROM inventory_slots
WHERE (COALESCE(cardinality($1::text[]), 0) = 0 OR neighborhood_id = ANY($1::text[]))
  AND ($2::text = '' OR placement_type = $2::text)
  AND ($3::date IS NULL OR date >= $3::date)
  AND ($4::date IS NULL OR date < $4::date)
  AND (COALESCE(cardinality($5::text[]), 0) = 0 OR state = ANY($5::text[]))
ORDER BY neighborhood_id, date, placement_type
`, ids, string(q.Placement), nullableDate(q.From), nullableDate(q.To), states)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "list_slots", "inventory_slots", start, err)
		return nil, err
	}
	defer rows.Close()

	var out []domain.InventorySlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", "list_slots", "inventory_slots", start, err)
			return nil, err
		}
		out = append(out, slot)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "list_slots", "inventory_slots", start, err)
	return out, err
}

// SlotStates reads the current state of keys; keys without a row are open.
func (p *Postgres) SlotStates(ctx context.Context, keys []domain.SlotKey) (map[domain.SlotKey]domain.SlotState, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	states := make(map[domain.SlotKey]domain.SlotState, len(keys))
	if len(keys) == 0 {
		return states, nil
	}
	ids := make([]string, len(keys))
	dates := make([]time.Time, len(keys))
	placements := make([]string, len(keys))
	for i, k := range keys {
		k = k.Normalize()
		states[k] = domain.SlotOpen
		ids[i] = k.NeighborhoodID
		dates[i] = k.Date
		placements[i] = string(k.Placement)
	}

	start := time.Now()
	rows, err := p.db(ctx).Query(ctx, `
SELECT `+slotColumns+`
FROM inventory_slots
WHERE (neighborhood_id, date, placement_type) IN (
	SELECT * FROM unnest($1::text[], $2::date[], $3::text[])
)
`, ids, dates, placements)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "slot_states", "inventory_slots", start, err)
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", "slot_states", "inventory_slots", start, err)
			return nil, err
		}
		states[slot.SlotKey] = slot.State
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "slot_states", "inventory_slots", start, err)
	return states, err
}

// ReserveSlot is the compare-and-swap open -> booked. A concurrent reservation of the
// same key waits on the row and then sees it booked.
func (p *Postgres) ReserveSlot(ctx context.Context, key domain.SlotKey, orderID string) (bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	key = key.Normalize()

	start := time.Now()
	var owner string
	err := p.db(ctx).QueryRow(ctx, `
INSERT INTO inventory_slots (neighborhood_id, date, placement_type, state, order_id, updated_at)
VALUES ($1, $2, $3, 'booked', $4, now())
ON CONFLICT (neighborhood_id, date, placement_type) DO UPDATE
SET state = 'booked', order_id = EXCLUDED.order_id, updated_at = now()
WHERE inventory_slots.state = 'open'
RETURNING order_id::text
`, key.NeighborhoodID, key.Date, string(key.Placement), orderID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "reserve_slot", "inventory_slots", start, nil)
		return false, nil
	}
	metrics.ObserveNetworkRequest("postgres", "reserve_slot", "inventory_slots", start, err)
	if isForeignKeyViolation(err) {
		return false, fmt.Errorf("reserve %s: order %s: %w", key, orderID, domain.ErrOrderNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w", key, err)
	}
	return true, nil
}

// ReleaseOrderSlots deletes the booked rows of an order; an absent row is open.
func (p *Postgres) ReleaseOrderSlots(ctx context.Context, orderID string) ([]domain.SlotKey, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.db(ctx).Query(ctx, `
DELETE FROM inventory_slots
WHERE order_id = $1 AND state = 'booked'
RETURNING `+slotColumns, orderID)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "release_slots", "inventory_slots", start, err)
		return nil, err
	}
	defer rows.Close()
	var released []domain.SlotKey
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", "release_slots", "inventory_slots", start, err)
			return nil, err
		}
		released = append(released, slot.SlotKey)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "release_slots", "inventory_slots", start, err)
	domain.SortSlotKeys(released)
	return released, err
}

// BlockSlot places an administrative hold. Booked slots cannot be blocked.
func (p *Postgres) BlockSlot(ctx context.Context, key domain.SlotKey) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	key = key.Normalize()

	start := time.Now()
	var state string
	err := p.db(ctx).QueryRow(ctx, `
INSERT INTO inventory_slots (neighborhood_id, date, placement_type, state, order_id, updated_at)
VALUES ($1, $2, $3, 'blocked', NULL, now())
ON CONFLICT (neighborhood_id, date, placement_type) DO UPDATE
SET state = 'blocked', updated_at = now()
WHERE inventory_slots.state <> 'booked'
RETURNING state
`, key.NeighborhoodID, key.Date, string(key.Placement)).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "block_slot", "inventory_slots", start, nil)
		return domain.ErrSlotBooked
	}
	metrics.ObserveNetworkRequest("postgres", "block_slot", "inventory_slots", start, err)
	return err
}

// UnblockSlot lifts a hold. Booked slots are left alone.
func (p *Postgres) UnblockSlot(ctx context.Context, key domain.SlotKey) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	key = key.Normalize()

	start := time.Now()
	_, err := p.db(ctx).Exec(ctx, `
DELETE FROM inventory_slots
WHERE neighborhood_id = $1 AND date = $2 AND placement_type = $3 AND state = 'blocked'
`, key.NeighborhoodID, key.Date, string(key.Placement))
	metrics.ObserveNetworkRequest("postgres", "unblock_slot", "inventory_slots", start, err)
	return err
}
