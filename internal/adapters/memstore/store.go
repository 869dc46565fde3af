package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"adinventory/internal/domain"
)

type txKey struct{}

// Store keeps the whole inventory in memory. Transactions are serialized by a single
// mutex and rolled back from a snapshot, which is enough for one process.
type Store struct {
	mu            sync.Mutex
	neighborhoods map[string]domain.Neighborhood
	slots         map[domain.SlotKey]domain.InventorySlot
	orders        map[string]domain.Order
	sessions      map[string]string
	ads           map[string]domain.Ad
	events        []domain.OrderEvent

	adWriteFault func(domain.Ad) error
	now          func() time.Time
}

var (
	_ domain.Directory     = (*Store)(nil)
	_ domain.InventoryRepo = (*Store)(nil)
	_ domain.OrderRepo     = (*Store)(nil)
	_ domain.AdRepo        = (*Store)(nil)
	_ domain.Transactor    = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		neighborhoods: make(map[string]domain.Neighborhood),
		slots:         make(map[domain.SlotKey]domain.InventorySlot),
		orders:        make(map[string]domain.Order),
		sessions:      make(map[string]string),
		ads:           make(map[string]domain.Ad),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetAdWriteFault makes ad writes fail when fn returns an error. Tests use it to
// simulate storage failures during activation.
func (s *Store) SetAdWriteFault(fn func(domain.Ad) error) {
	s.mu.Lock()
	s.adWriteFault = fn
	s.mu.Unlock()
}

type snapshot struct {
	slots    map[domain.SlotKey]domain.InventorySlot
	orders   map[string]domain.Order
	sessions map[string]string
	ads      map[string]domain.Ad
	events   int
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		slots:    make(map[domain.SlotKey]domain.InventorySlot, len(s.slots)),
		orders:   make(map[string]domain.Order, len(s.orders)),
		sessions: make(map[string]string, len(s.sessions)),
		ads:      make(map[string]domain.Ad, len(s.ads)),
		events:   len(s.events),
	}
	for k, v := range s.slots {
		snap.slots[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.sessions {
		snap.sessions[k] = v
	}
	for k, v := range s.ads {
		snap.ads[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.slots = snap.slots
	s.orders = snap.orders
	s.sessions = snap.sessions
	s.ads = snap.ads
	s.events = s.events[:snap.events]
}

// WithTx runs fn atomically. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// UpsertNeighborhood adds or replaces a directory entry.
func (s *Store) UpsertNeighborhood(ctx context.Context, n domain.Neighborhood) error {
	defer s.lock(ctx)()
	n.ComponentIDs = append([]string(nil), n.ComponentIDs...)
	s.neighborhoods[n.ID] = n
	return nil
}

func (s *Store) GetNeighborhood(ctx context.Context, id string) (domain.Neighborhood, error) {
	defer s.lock(ctx)()
	n, ok := s.neighborhoods[id]
	if !ok {
		return domain.Neighborhood{}, domain.ErrNeighborhoodNotFound
	}
	n.ComponentIDs = append([]string(nil), n.ComponentIDs...)
	return n, nil
}

func (s *Store) ListComponents(ctx context.Context, comboID string) ([]string, error) {
	n, err := s.GetNeighborhood(ctx, comboID)
	if err != nil {
		return nil, err
	}
	if !n.IsCombo {
		return nil, nil
	}
	return n.ComponentIDs, nil
}

func (s *Store) CombosContaining(ctx context.Context, id string) ([]string, error) {
	defer s.lock(ctx)()
	var combos []string
	for _, n := range s.neighborhoods {
		if !n.IsCombo {
			continue
		}
		for _, c := range n.ComponentIDs {
			if c == id {
				combos = append(combos, n.ID)
				break
			}
		}
	}
	sort.Strings(combos)
	return combos, nil
}

func (s *Store) ListSlots(ctx context.Context, q domain.SlotQuery) ([]domain.InventorySlot, error) {
	defer s.lock(ctx)()
	var out []domain.InventorySlot
	for _, slot := range s.slots {
		if q.Matches(slot) {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.SlotKeyLess(out[i].SlotKey, out[j].SlotKey) })
	return out, nil
}

func (s *Store) SlotStates(ctx context.Context, keys []domain.SlotKey) (map[domain.SlotKey]domain.SlotState, error) {
	defer s.lock(ctx)()
	states := make(map[domain.SlotKey]domain.SlotState, len(keys))
	for _, k := range keys {
		k = k.Normalize()
		if slot, ok := s.slots[k]; ok {
			states[k] = slot.State
			continue
		}
		states[k] = domain.SlotOpen
	}
	return states, nil
}

func (s *Store) ReserveSlot(ctx context.Context, key domain.SlotKey, orderID string) (bool, error) {
	defer s.lock(ctx)()
	key = key.Normalize()
	if _, ok := s.orders[orderID]; !ok {
		return false, fmt.Errorf("reserve %s: order %s: %w", key, orderID, domain.ErrOrderNotFound)
	}
	if slot, ok := s.slots[key]; ok && slot.State != domain.SlotOpen {
		return false, nil
	}
	s.slots[key] = domain.InventorySlot{SlotKey: key, State: domain.SlotBooked, OrderID: orderID, UpdatedAt: s.now()}
	return true, nil
}

func (s *Store) ReleaseOrderSlots(ctx context.Context, orderID string) ([]domain.SlotKey, error) {
	defer s.lock(ctx)()
	var released []domain.SlotKey
	for k, slot := range s.slots {
		if slot.State == domain.SlotBooked && slot.OrderID == orderID {
			delete(s.slots, k)
			released = append(released, k)
		}
	}
	domain.SortSlotKeys(released)
	return released, nil
}

func (s *Store) BlockSlot(ctx context.Context, key domain.SlotKey) error {
	defer s.lock(ctx)()
	key = key.Normalize()
	if slot, ok := s.slots[key]; ok && slot.State == domain.SlotBooked {
		return domain.ErrSlotBooked
	}
	s.slots[key] = domain.InventorySlot{SlotKey: key, State: domain.SlotBlocked, UpdatedAt: s.now()}
	return nil
}

func (s *Store) UnblockSlot(ctx context.Context, key domain.SlotKey) error {
	defer s.lock(ctx)()
	key = key.Normalize()
	if slot, ok := s.slots[key]; ok && slot.State == domain.SlotBlocked {
		delete(s.slots, key)
	}
	return nil
}
