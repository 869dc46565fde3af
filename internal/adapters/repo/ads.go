package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"adinventory/internal/domain"
	"adinventory/internal/infra/metrics"
)

const adColumns = `id::text, COALESCE(order_id::text, ''), COALESCE(order_line_id::text, ''), COALESCE(neighborhood_id, ''), placement_type, status, paid,
	start_date, end_date, targeting, headline, body, image_url, click_url, created_at, updated_at`

func scanAd(row pgx.Row) (domain.Ad, error) {
	var (
		ad         domain.Ad
		placement  string
		status     string
		start, end *time.Time
		targeting  []byte
	)
	err := row.Scan(&ad.ID, &ad.OrderID, &ad.OrderLineID, &ad.NeighborhoodID, &placement, &status, &ad.Paid,
		&start, &end, &targeting, &ad.Creative.Headline, &ad.Creative.Body, &ad.Creative.ImageURL,
		&ad.Creative.ClickURL, &ad.CreatedAt, &ad.UpdatedAt)
	if err != nil {
		return domain.Ad{}, err
	}
	ad.Placement = domain.PlacementType(placement)
	ad.Status = domain.AdStatus(status)
	if start != nil {
		ad.StartDate = *start
	}
	if end != nil {
		ad.EndDate = *end
	}
	if len(targeting) > 0 {
		if err := json.Unmarshal(targeting, &ad.Targeting); err != nil {
			return domain.Ad{}, fmt.Errorf("decode targeting: %w", err)
		}
	}
	return ad, nil
}

func scopeIDs(ad domain.Ad) []string {
	if ad.Targeting.NeighborhoodIDs == nil {
		return []string{}
	}
	return ad.Targeting.NeighborhoodIDs
}

func (p *Postgres) CreateAd(ctx context.Context, ad domain.Ad) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	targeting, err := json.Marshal(ad.Targeting)
	if err != nil {
		return fmt.Errorf("marshal targeting: %w", err)
	}
	created := ad.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	start := time.Now()
	_, err = p.db(ctx).Exec(ctx, `
INSERT INTO ads (id, order_id, order_line_id, neighborhood_id, placement_type, status, paid, start_date, end_date,
                 scope_ids, targeting, headline, body, image_url, click_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
`, ad.ID, nullableString(ad.OrderID), nullableString(ad.OrderLineID), nullableString(ad.NeighborhoodID), string(ad.Placement), string(ad.Status),
		ad.Paid, nullableDate(ad.StartDate), nullableDate(ad.EndDate), scopeIDs(ad), targeting,
		ad.Creative.Headline, ad.Creative.Body, ad.Creative.ImageURL, ad.Creative.ClickURL, created)
	metrics.ObserveNetworkRequest("postgres", "insert_ad", "ads", start, err)
	if isUniqueViolation(err) {
		return fmt.Errorf("ad for line %s already exists: %w", ad.OrderLineID, err)
	}
	return err
}

func (p *Postgres) GetAd(ctx context.Context, id string) (domain.Ad, error) {
	return p.getAd(ctx, `SELECT `+adColumns+` FROM ads WHERE id = $1`, id)
}

func (p *Postgres) GetAdByLine(ctx context.Context, lineID string) (domain.Ad, error) {
	return p.getAd(ctx, `SELECT `+adColumns+` FROM ads WHERE order_line_id = $1`, lineID)
}

func (p *Postgres) getAd(ctx context.Context, query, arg string) (domain.Ad, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	ad, err := scanAd(p.db(ctx).QueryRow(ctx, query, arg))
	metrics.ObserveNetworkRequest("postgres", "get_ad", "ads", start, err)
	if err != nil {
		return domain.Ad{}, notFound(err, domain.ErrAdNotFound)
	}
	return ad, nil
}

// UpdateAd persists status, payment flag and window.
func (p *Postgres) UpdateAd(ctx context.Context, ad domain.Ad) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.db(ctx).Exec(ctx, `
UPDATE ads
SET status = $2, paid = $3, start_date = $4, end_date = $5, updated_at = now()
WHERE id = $1
`, ad.ID, string(ad.Status), ad.Paid, nullableDate(ad.StartDate), nullableDate(ad.EndDate))
	metrics.ObserveNetworkRequest("postgres", "update_ad", "ads", start, err)
	if err != nil {
		return notFound(err, domain.ErrAdNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAdNotFound
	}
	return nil
}

func (p *Postgres) ListDeliverableAds(ctx context.Context, date time.Time, neighborhoodIDs []string) ([]domain.Ad, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if neighborhoodIDs == nil {
		neighborhoodIDs = []string{}
	}

	start := time.Now()
	rows, err := p.db(ctx).Query(ctx, `
SELECT `+adColumns+`
FROM ads
WHERE status = 'active'
  AND start_date <= $1 AND end_date >= $1
  AND (cardinality(scope_ids) = 0 OR scope_ids && $2::text[])
ORDER BY id
`, domain.DateOf(date), neighborhoodIDs)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "list_deliverable_ads", "ads", start, err)
		return nil, err
	}
	defer rows.Close()
	var out []domain.Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", "list_deliverable_ads", "ads", start, err)
			return nil, err
		}
		out = append(out, ad)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "list_deliverable_ads", "ads", start, err)
	return out, err
}
