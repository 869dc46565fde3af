package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"adinventory/internal/domain"
	"adinventory/internal/infra/metrics"
)

const orderColumns = `id::text, status, total_cents, currency, contact_email, COALESCE(payment_session_id, ''),
	COALESCE(checkout_url, ''), needs_reconciliation, created_at, updated_at, paid_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := row.Scan(&o.ID, &status, &o.TotalCents, &o.Currency, &o.ContactEmail, &o.PaymentSessionID,
		&o.CheckoutURL, &o.NeedsReconciliation, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// CreateOrder inserts the order and its lines in one transaction.
func (p *Postgres) CreateOrder(ctx context.Context, order domain.Order) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	return p.WithTx(ctx, func(ctx context.Context) error {
		start := time.Now()
		_, err := p.db(ctx).Exec(ctx, `
INSERT INTO orders (id, status, total_cents, currency, contact_email, payment_session_id, checkout_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
`, order.ID, string(order.Status), order.TotalCents, order.Currency, order.ContactEmail,
			nullableString(order.PaymentSessionID), nullableString(order.CheckoutURL), order.CreatedAt)
		metrics.ObserveNetworkRequest("postgres", "insert_order", "orders", start, err)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("order %s already exists", order.ID)
			}
			return err
		}
		for _, line := range order.Lines {
			start := time.Now()
			_, err := p.db(ctx).Exec(ctx, `
INSERT INTO order_lines (id, order_id, neighborhood_id, date, placement_type, price_cents)
VALUES ($1, $2, $3, $4, $5, $6)
`, line.ID, order.ID, line.NeighborhoodID, domain.DateOf(line.Date), string(line.Placement), line.PriceCents)
			metrics.ObserveNetworkRequest("postgres", "insert_order_line", "order_lines", start, err)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return p.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// LockOrder holds the row until the surrounding transaction ends.
func (p *Postgres) LockOrder(ctx context.Context, id string) (domain.Order, error) {
	return p.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (p *Postgres) GetOrderBySession(ctx context.Context, sessionID string) (domain.Order, error) {
	order, err := p.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_session_id = $1`, sessionID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, domain.ErrSessionNotFound
	}
	return order, err
}

func (p *Postgres) getOrder(ctx context.Context, query string, arg string) (domain.Order, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	order, err := scanOrder(p.db(ctx).QueryRow(ctx, query, arg))
	metrics.ObserveNetworkRequest("postgres", "get_order", "orders", start, err)
	if err != nil {
		return domain.Order{}, notFound(err, domain.ErrOrderNotFound)
	}
	lines, err := p.orderLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines
	return order, nil
}

func (p *Postgres) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	start := time.Now()
	rows, err := p.db(ctx).Query(ctx, `
SELECT id::text, order_id::text, neighborhood_id, date, placement_type, price_cents, activation_failed
FROM order_lines
WHERE order_id = $1
ORDER BY neighborhood_id, date, placement_type
`, orderID)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "list_order_lines", "order_lines", start, err)
		return nil, err
	}
	defer rows.Close()
	var lines []domain.OrderLine
	for rows.Next() {
		var (
			line      domain.OrderLine
			placement string
		)
		if err := rows.Scan(&line.ID, &line.OrderID, &line.NeighborhoodID, &line.Date, &placement, &line.PriceCents, &line.ActivationFailed); err != nil {
			metrics.ObserveNetworkRequest("postgres", "list_order_lines", "order_lines", start, err)
			return nil, err
		}
		line.Placement = domain.PlacementType(placement)
		lines = append(lines, line)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "list_order_lines", "order_lines", start, err)
	return lines, err
}

func (p *Postgres) SetPaymentSession(ctx context.Context, orderID, sessionID, checkoutURL string) error {
	return p.execOrder(ctx, "set_payment_session", `
UPDATE orders SET payment_session_id = $2, checkout_url = $3, updated_at = now() WHERE id = $1
`, orderID, sessionID, nullableString(checkoutURL))
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) error {
	return p.execOrder(ctx, "update_order_status", `
UPDATE orders
SET status = $2,
    updated_at = $3,
    paid_at = CASE WHEN $2 = 'paid' THEN $3 ELSE paid_at END,
    needs_reconciliation = CASE WHEN $2 = 'paid' THEN FALSE ELSE needs_reconciliation END
WHERE id = $1
`, orderID, string(status), at)
}

func (p *Postgres) SetNeedsReconciliation(ctx context.Context, orderID string, flag bool) error {
	return p.execOrder(ctx, "set_reconciliation", `
UPDATE orders SET needs_reconciliation = $2, updated_at = now() WHERE id = $1
`, orderID, flag)
}

func (p *Postgres) execOrder(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.db(ctx).Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "orders", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: duplicate payment session: %w", op, err)
		}
		return notFound(err, domain.ErrOrderNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (p *Postgres) SetLineActivationFailed(ctx context.Context, lineID string, failed bool) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.db(ctx).Exec(ctx, `UPDATE order_lines SET activation_failed = $2 WHERE id = $1`, lineID, failed)
	metrics.ObserveNetworkRequest("postgres", "set_activation_failed", "order_lines", start, err)
	if err != nil {
		return notFound(err, domain.ErrOrderNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// ListStalePending returns the oldest pending orders first. The sweep re-locks each one
// before releasing it, so concurrent sweepers cannot abandon a paid order.
func (p *Postgres) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}

	start := time.Now()
	rows, err := p.db(ctx).Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE status = 'pending' AND NOT needs_reconciliation AND created_at < $1
ORDER BY created_at
LIMIT $2
`, cutoff, limit)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "list_stale_orders", "orders", start, err)
		return nil, err
	}
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", "list_stale_orders", "orders", start, err)
			return nil, err
		}
		out = append(out, o)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "list_stale_orders", "orders", start, err)
	return out, err
}

func (p *Postgres) AppendOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.db(ctx).Exec(ctx, `
INSERT INTO order_events (order_id, event, details, occurred_at) VALUES ($1, $2, $3, $4)
`, event.OrderID, event.Event, details, occurred)
	metrics.ObserveNetworkRequest("postgres", "insert_order_event", "order_events", start, err)
	return err
}
