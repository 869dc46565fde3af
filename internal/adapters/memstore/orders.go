package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"adinventory/internal/domain"
)

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return o
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) error {
	defer s.lock(ctx)()
	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now()
	}
	order.UpdatedAt = order.CreatedAt
	s.orders[order.ID] = cloneOrder(order)
	if order.PaymentSessionID != "" {
		s.sessions[order.PaymentSessionID] = order.ID
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// LockOrder is GetOrder; the store-wide transaction lock already serializes writers.
func (s *Store) LockOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *Store) GetOrderBySession(ctx context.Context, sessionID string) (domain.Order, error) {
	defer s.lock(ctx)()
	id, ok := s.sessions[sessionID]
	if !ok {
		return domain.Order{}, domain.ErrSessionNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *Store) SetPaymentSession(ctx context.Context, orderID, sessionID, checkoutURL string) error {
	return s.mutateOrder(ctx, orderID, func(o *domain.Order) {
		if o.PaymentSessionID != "" {
			delete(s.sessions, o.PaymentSessionID)
		}
		o.PaymentSessionID = sessionID
		o.CheckoutURL = checkoutURL
		s.sessions[sessionID] = o.ID
	})
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) error {
	return s.mutateOrder(ctx, orderID, func(o *domain.Order) {
		o.Status = status
		o.UpdatedAt = at
		if status == domain.OrderPaid {
			paidAt := at
			o.PaidAt = &paidAt
			o.NeedsReconciliation = false
		}
	})
}

func (s *Store) SetNeedsReconciliation(ctx context.Context, orderID string, flag bool) error {
	return s.mutateOrder(ctx, orderID, func(o *domain.Order) {
		o.NeedsReconciliation = flag
	})
}

func (s *Store) SetLineActivationFailed(ctx context.Context, lineID string, failed bool) error {
	defer s.lock(ctx)()
	for id, o := range s.orders {
		for i, line := range o.Lines {
			if line.ID != lineID {
				continue
			}
			o = cloneOrder(o)
			o.Lines[i].ActivationFailed = failed
			s.orders[id] = o
			return nil
		}
	}
	return domain.ErrOrderNotFound
}

func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	defer s.lock(ctx)()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Status == domain.OrderPending && !o.NeedsReconciliation && o.CreatedAt.Before(cutoff) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	defer s.lock(ctx)()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	s.events = append(s.events, event)
	return nil
}

// OrderEvents returns the audit trail of an order.
func (s *Store) OrderEvents(orderID string) []domain.OrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderEvent
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) mutateOrder(ctx context.Context, orderID string, fn func(o *domain.Order)) error {
	defer s.lock(ctx)()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o = cloneOrder(o)
	fn(&o)
	s.orders[orderID] = o
	return nil
}
