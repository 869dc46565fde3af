package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"adinventory/internal/domain"
	"adinventory/internal/infra/metrics"
)

// Payment confirmation failure reasons.
const (
	ReasonUnknownSession  = "unknown_session"
	ReasonSessionMismatch = "session_mismatch"
	ReasonAmountMismatch  = "amount_mismatch"
	ReasonInventoryResold = "inventory_resold"
	ReasonOrderNotPayable = "order_not_payable"
)

const (
	sourceWebhook      = "webhook"
	sourcePoll         = "poll"
	sourceManualPrefix = "manual:"
)

type paymentCheck struct {
	sessionID string
	amount    domain.Money
}

// ConfirmPayment applies a processor confirmation. Repeated confirmations of a paid order
// succeed with AlreadyPaid set and change nothing.
func (s *Service) ConfirmPayment(ctx context.Context, event domain.PaymentEvent) (domain.OrderConfirmation, error) {
	order, err := s.store.GetOrderBySession(ctx, event.SessionID)
	if errors.Is(err, domain.ErrSessionNotFound) && event.OrderID != "" {
		order, err = s.store.GetOrder(ctx, event.OrderID)
		if err == nil && order.PaymentSessionID != "" && order.PaymentSessionID != event.SessionID {
			return domain.OrderConfirmation{}, s.escalate(ctx, &domain.PaymentConfirmationError{
				SessionID: event.SessionID, OrderID: order.ID, Reason: ReasonSessionMismatch,
			})
		}
	}
	if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrOrderNotFound) {
		return domain.OrderConfirmation{}, s.escalate(ctx, &domain.PaymentConfirmationError{
			SessionID: event.SessionID, OrderID: event.OrderID, Reason: ReasonUnknownSession,
		})
	}
	if err != nil {
		return domain.OrderConfirmation{}, fmt.Errorf("find order for session %s: %w", event.SessionID, err)
	}

	var check *paymentCheck
	if event.Amount.Amount != 0 || event.Amount.Currency != "" {
		check = &paymentCheck{sessionID: event.SessionID, amount: event.Amount}
	}
	return s.confirm(ctx, order.ID, check, sourceWebhook)
}

// ConfirmManually marks an order paid on behalf of an operator, for example after a
// reconciliation. It clears the reconciliation flag.
func (s *Service) ConfirmManually(ctx context.Context, orderID, operator string) (domain.OrderConfirmation, error) {
	if strings.TrimSpace(operator) == "" {
		return domain.OrderConfirmation{}, fmt.Errorf("operator is required")
	}
	return s.confirm(ctx, orderID, nil, sourceManualPrefix+operator)
}

// RefreshOrderStatus returns the order, confirming it first when the processor reports
// its session as paid.
func (s *Service) RefreshOrderStatus(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderPending || order.PaymentSessionID == "" || order.NeedsReconciliation {
		return order, nil
	}

	session, err := s.gateway.GetSession(ctx, order.PaymentSessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("order_id", orderID).Msg("poll payment session")
		return order, nil
	}
	if !session.Paid() {
		return order, nil
	}

	conf, err := s.confirm(ctx, orderID, &paymentCheck{sessionID: session.ID, amount: session.Amount}, sourcePoll)
	var (
		partial *domain.PartialActivationFailure
		pce     *domain.PaymentConfirmationError
	)
	switch {
	case errors.As(err, &partial):
		s.log.Warn().Err(err).Str("order_id", orderID).Msg("order paid with activation failures")
	case errors.As(err, &pce):
		// Already escalated; the poller sees the flagged order.
	case err != nil:
		return domain.Order{}, err
	default:
		return conf.Order, nil
	}
	return s.store.GetOrder(ctx, orderID)
}

// confirm is the single path into the paid state. check is nil for manual confirmations.
func (s *Service) confirm(ctx context.Context, orderID string, check *paymentCheck, source string) (domain.OrderConfirmation, error) {
	now := s.clock.Now().UTC()
	var (
		conf      domain.OrderConfirmation
		rebooked  []domain.SlotKey
		confirmed bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		order, err := s.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		sessionID := order.PaymentSessionID
		if check != nil {
			sessionID = check.sessionID
		}

		switch order.Status {
		case domain.OrderPaid:
			conf = domain.OrderConfirmation{Order: order, AlreadyPaid: true}
			return nil
		case domain.OrderAbandoned:
			rebooked, err = s.rebook(ctx, order)
			if err != nil {
				return err
			}
			if rebooked == nil {
				return &domain.PaymentConfirmationError{SessionID: sessionID, OrderID: order.ID, Reason: ReasonInventoryResold}
			}
		case domain.OrderPending:
		default:
			return &domain.PaymentConfirmationError{SessionID: sessionID, OrderID: order.ID, Reason: ReasonOrderNotPayable}
		}

		if check != nil && !amountMatches(order, check.amount) {
			return &domain.PaymentConfirmationError{SessionID: sessionID, OrderID: order.ID, Reason: ReasonAmountMismatch}
		}
		if err := s.store.UpdateOrderStatus(ctx, order.ID, domain.OrderPaid, now); err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		details := map[string]any{"source": source}
		if sessionID != "" {
			details["session_id"] = sessionID
		}
		if len(rebooked) > 0 {
			details["rebooked_slots"] = len(rebooked)
		}
		if err := s.store.AppendOrderEvent(ctx, domain.OrderEvent{OrderID: order.ID, Event: domain.EventOrderPaid, Details: details, OccurredAt: now}); err != nil {
			return fmt.Errorf("append order event: %w", err)
		}
		confirmed = true
		return nil
	})

	var pce *domain.PaymentConfirmationError
	if errors.As(err, &pce) {
		return domain.OrderConfirmation{}, s.escalate(ctx, pce)
	}
	if err != nil {
		return domain.OrderConfirmation{}, err
	}
	if !confirmed {
		s.log.Debug().Str("order_id", orderID).Str("source", source).Msg("order already paid")
		return conf, nil
	}

	s.invalidate(ctx, rebooked)
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderConfirmation{}, fmt.Errorf("reload order: %w", err)
	}
	metrics.IncOrderTransition(string(domain.OrderPaid))
	metrics.BookedRevenueCents.WithLabelValues(order.Currency).Add(float64(order.TotalCents))
	s.log.Info().Str("order_id", order.ID).Str("source", source).Int64("total_cents", order.TotalCents).Msg("order paid")

	conf, failed, cause := s.activate(ctx, order, order.Lines)
	if len(failed) == 0 {
		return conf, nil
	}
	s.recordActivationFailure(ctx, order.ID, failed, cause)
	return conf, &domain.PartialActivationFailure{OrderID: order.ID, LineIDs: failed, Cause: cause}
}

func amountMatches(order domain.Order, paid domain.Money) bool {
	return paid.Amount == order.TotalCents && strings.EqualFold(paid.Currency, order.Currency)
}

// rebook reserves the slots of an abandoned order again. It returns nil keys when any slot
// was taken meanwhile; the caller's transaction then rolls back the partial reservation.
func (s *Service) rebook(ctx context.Context, order domain.Order) ([]domain.SlotKey, error) {
	var keys []domain.SlotKey
	for _, line := range order.Lines {
		n, err := s.dir.GetNeighborhood(ctx, line.NeighborhoodID)
		if err != nil {
			return nil, fmt.Errorf("get neighborhood %s: %w", line.NeighborhoodID, err)
		}
		for _, id := range n.ExposureIDs() {
			keys = append(keys, domain.SlotKey{NeighborhoodID: id, Date: domain.DateOf(line.Date), Placement: line.Placement})
		}
	}
	domain.SortSlotKeys(keys)
	for _, key := range keys {
		ok, err := s.store.ReserveSlot(ctx, key, order.ID)
		if err != nil {
			return nil, fmt.Errorf("reserve %s: %w", key, err)
		}
		if !ok {
			return nil, nil
		}
	}
	return keys, nil
}

// activate activates the ad of each line in its own transaction so that one bad line
// does not undo the others.
func (s *Service) activate(ctx context.Context, order domain.Order, lines []domain.OrderLine) (domain.OrderConfirmation, []string, error) {
	conf := domain.OrderConfirmation{Order: order}
	var (
		failed []string
		cause  error
	)
	for _, line := range lines {
		start, end := s.cal.Window(line.Placement, line.Date)
		var ad domain.Ad
		err := s.store.WithTx(ctx, func(ctx context.Context) error {
			var err error
			ad, err = s.store.GetAdByLine(ctx, line.ID)
			if err != nil {
				return err
			}
			if err := ad.Activate(start, end); err != nil {
				return err
			}
			ad.UpdatedAt = s.clock.Now().UTC()
			return s.store.UpdateAd(ctx, ad)
		})
		if err != nil {
			s.log.Error().Err(err).Str("order_id", order.ID).Str("line_id", line.ID).Msg("ad activation failed")
			metrics.ActivationFailures.Inc()
			failed = append(failed, line.ID)
			cause = errors.Join(cause, fmt.Errorf("line %s: %w", line.ID, err))
			if flagErr := s.store.SetLineActivationFailed(ctx, line.ID, true); flagErr != nil {
				s.log.Error().Err(flagErr).Str("line_id", line.ID).Msg("flag failed line")
			}
			continue
		}
		if line.ActivationFailed {
			if err := s.store.SetLineActivationFailed(ctx, line.ID, false); err != nil {
				s.log.Warn().Err(err).Str("line_id", line.ID).Msg("clear activation flag")
			}
		}
		if ad.Status == domain.AdPendingReview {
			conf.AwaitingReview = append(conf.AwaitingReview, ad.ID)
		} else {
			conf.ActivatedAds = append(conf.ActivatedAds, ad.ID)
		}
	}
	conf.FailedLines = failed
	return conf, failed, cause
}

func (s *Service) recordActivationFailure(ctx context.Context, orderID string, lineIDs []string, cause error) {
	now := s.clock.Now().UTC()
	event := domain.OrderEvent{
		OrderID:    orderID,
		Event:      domain.EventActivationFailed,
		Details:    map[string]any{"line_ids": lineIDs, "error": cause.Error()},
		OccurredAt: now,
	}
	if err := s.store.AppendOrderEvent(ctx, event); err != nil {
		s.log.Error().Err(err).Str("order_id", orderID).Msg("record activation failure")
	}
	s.enqueue(ctx, domain.OpsTask{
		Kind:    domain.OpsActivationRetry,
		OrderID: orderID,
		LineIDs: lineIDs,
		Reason:  cause.Error(),
		Attempt: 1,
	})
}

// RetryActivation re-runs activation for the flagged lines of a paid order.
func (s *Service) RetryActivation(ctx context.Context, orderID string) (domain.OrderConfirmation, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderConfirmation{}, err
	}
	if order.Status != domain.OrderPaid {
		return domain.OrderConfirmation{}, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, orderID, order.Status)
	}
	var flagged []domain.OrderLine
	for _, line := range order.Lines {
		if line.ActivationFailed {
			flagged = append(flagged, line)
		}
	}
	if len(flagged) == 0 {
		return domain.OrderConfirmation{Order: order, AlreadyPaid: true}, nil
	}

	conf, failed, cause := s.activate(ctx, order, flagged)
	conf.AlreadyPaid = true
	details := map[string]any{"lines": len(flagged), "failed": len(failed)}
	if err := s.store.AppendOrderEvent(ctx, domain.OrderEvent{
		OrderID: orderID, Event: domain.EventActivationRetried, Details: details, OccurredAt: s.clock.Now().UTC(),
	}); err != nil {
		s.log.Warn().Err(err).Str("order_id", orderID).Msg("record activation retry")
	}
	if len(failed) > 0 {
		return conf, &domain.PartialActivationFailure{OrderID: orderID, LineIDs: failed, Cause: cause}
	}
	if refreshed, err := s.store.GetOrder(ctx, orderID); err == nil {
		conf.Order = refreshed
	}
	return conf, nil
}

// escalate routes a confirmation that cannot be applied to operators and returns pce.
func (s *Service) escalate(ctx context.Context, pce *domain.PaymentConfirmationError) error {
	metrics.PaymentConfirmationFailures.WithLabelValues(pce.Reason).Inc()
	s.log.Error().
		Str("order_id", pce.OrderID).
		Str("session_id", pce.SessionID).
		Str("reason", pce.Reason).
		Msg("payment confirmation needs reconciliation")

	kind := domain.OpsPaymentReconciliation
	if pce.Reason == ReasonInventoryResold {
		kind = domain.OpsRefund
	}
	if pce.OrderID != "" {
		if err := s.store.SetNeedsReconciliation(ctx, pce.OrderID, true); err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			s.log.Error().Err(err).Str("order_id", pce.OrderID).Msg("flag order for reconciliation")
		}
		event := domain.OrderEvent{
			OrderID:    pce.OrderID,
			Event:      domain.EventOrderReconciliation,
			Details:    map[string]any{"reason": pce.Reason, "session_id": pce.SessionID},
			OccurredAt: s.clock.Now().UTC(),
		}
		if err := s.store.AppendOrderEvent(ctx, event); err != nil {
			s.log.Warn().Err(err).Str("order_id", pce.OrderID).Msg("record reconciliation")
		}
	}
	s.enqueue(ctx, domain.OpsTask{Kind: kind, OrderID: pce.OrderID, SessionID: pce.SessionID, Reason: pce.Reason})
	return pce
}

func (s *Service) enqueue(ctx context.Context, task domain.OpsTask) {
	if task.ID == "" {
		task.ID = s.newID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.clock.Now().UTC()
	}
	if s.ops != nil {
		err := s.ops.Enqueue(ctx, task)
		if err == nil {
			return
		}
		s.log.Error().Err(err).Str("kind", string(task.Kind)).Str("order_id", task.OrderID).Msg("enqueue ops task")
	}
	// Without a queue the operators still hear about it.
	if s.notifier != nil {
		text := fmt.Sprintf("%s for order %s: %s", task.Kind, task.OrderID, task.Reason)
		if err := s.notifier.NotifyOperators(ctx, text); err != nil {
			s.log.Error().Err(err).Msg("notify operators")
		}
	}
}
