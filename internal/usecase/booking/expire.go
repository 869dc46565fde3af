package booking

import (
	"context"
	"fmt"
	"time"

	"adinventory/internal/domain"
	"adinventory/internal/infra/metrics"
)

const defaultSweepBatch = 100

// ExpireStaleOrders abandons pending orders created more than olderThan ago and reopens
// their slots. Orders under reconciliation are left alone. Each order is released in its
// own transaction; failures are collected into a StaleOrderSweepFailure.
func (s *Service) ExpireStaleOrders(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	stale, err := s.store.ListStalePending(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}

	var (
		abandoned []string
		failed    = make(map[string]error)
	)
	for _, order := range stale {
		if err := ctx.Err(); err != nil {
			return abandoned, err
		}
		changed, err := s.abandon(ctx, order.ID, "expired", &cutoff)
		if err != nil {
			s.log.Error().Err(err).Str("order_id", order.ID).Msg("release stale order")
			failed[order.ID] = err
			continue
		}
		if !changed {
			continue
		}
		abandoned = append(abandoned, order.ID)
		if order.PaymentSessionID != "" {
			if err := s.gateway.ExpireSession(ctx, order.PaymentSessionID); err != nil {
				s.log.Warn().Err(err).Str("order_id", order.ID).Str("session_id", order.PaymentSessionID).Msg("expire payment session")
			}
		}
	}

	metrics.SweepAbandoned.Add(float64(len(abandoned)))
	if len(failed) > 0 {
		return abandoned, &domain.StaleOrderSweepFailure{Failed: failed}
	}
	return abandoned, nil
}

// abandon moves a pending order to abandoned and releases its slots. With a cutoff the
// order is rechecked under lock, so a payment confirmed meanwhile wins. It reports whether
// the order changed.
func (s *Service) abandon(ctx context.Context, orderID, reason string, cutoff *time.Time) (bool, error) {
	now := s.clock.Now().UTC()
	var released []domain.SlotKey
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		order, err := s.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderPending {
			return nil
		}
		if cutoff != nil && (order.NeedsReconciliation || !order.CreatedAt.Before(*cutoff)) {
			return nil
		}
		released, err = s.store.ReleaseOrderSlots(ctx, orderID)
		if err != nil {
			return fmt.Errorf("release slots: %w", err)
		}
		if err := s.store.UpdateOrderStatus(ctx, orderID, domain.OrderAbandoned, now); err != nil {
			return fmt.Errorf("mark order abandoned: %w", err)
		}
		changed = true
		return s.store.AppendOrderEvent(ctx, domain.OrderEvent{
			OrderID:    orderID,
			Event:      domain.EventOrderAbandoned,
			Details:    map[string]any{"reason": reason, "released_slots": len(released)},
			OccurredAt: now,
		})
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.invalidate(ctx, released)
		metrics.IncOrderTransition(string(domain.OrderAbandoned))
		s.log.Info().Str("order_id", orderID).Str("reason", reason).Int("released_slots", len(released)).Msg("order abandoned")
	}
	return changed, nil
}
