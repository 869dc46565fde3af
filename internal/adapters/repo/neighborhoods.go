package repo

import (
	"context"
	"time"

	"adinventory/internal/domain"
	"adinventory/internal/infra/metrics"
)

func (p *Postgres) GetNeighborhood(ctx context.Context, id string) (domain.Neighborhood, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var n domain.Neighborhood
	start := time.Now()
	err := p.db(ctx).QueryRow(ctx, `
SELECT id, name, city, tier, is_combo, component_ids FROM neighborhoods WHERE id = $1
`, id).Scan(&n.ID, &n.Name, &n.City, &n.Tier, &n.IsCombo, &n.ComponentIDs)
	metrics.ObserveNetworkRequest("postgres", "get_neighborhood", "neighborhoods", start, err)
	if err != nil {
		return domain.Neighborhood{}, notFound(err, domain.ErrNeighborhoodNotFound)
	}
	return n, nil
}

func (p *Postgres) ListComponents(ctx context.Context, comboID string) ([]string, error) {
	n, err := p.GetNeighborhood(ctx, comboID)
	if err != nil {
		return nil, err
	}
	if !n.IsCombo {
		return nil, nil
	}
	return n.ComponentIDs, nil
}

// CombosContaining answers the component -> combo lookup from the GIN index.
func (p *Postgres) CombosContaining(ctx context.Context, id string) ([]string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.db(ctx).Query(ctx, `
SELECT id FROM neighborhoods WHERE is_combo AND component_ids @> ARRAY[$1::text] ORDER BY id
`, id)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "combos_containing", "neighborhoods", start, err)
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var comboID string
		if err := rows.Scan(&comboID); err != nil {
			metrics.ObserveNetworkRequest("postgres", "combos_containing", "neighborhoods", start, err)
			return nil, err
		}
		ids = append(ids, comboID)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "combos_containing", "neighborhoods", start, err)
	return ids, err
}

// UpsertNeighborhood seeds the directory table from the catalogue.
func (p *Postgres) UpsertNeighborhood(ctx context.Context, n domain.Neighborhood) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	components := n.ComponentIDs
	if components == nil {
		components = []string{}
	}
	start := time.Now()
	_, err := p.db(ctx).Exec(ctx, `
INSERT INTO neighborhoods (id, name, city, tier, is_combo, component_ids)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, city = EXCLUDED.city, tier = EXCLUDED.tier,
    is_combo = EXCLUDED.is_combo, component_ids = EXCLUDED.component_ids
`, n.ID, n.Name, n.City, n.Tier, n.IsCombo, components)
	metrics.ObserveNetworkRequest("postgres", "upsert_neighborhood", "neighborhoods", start, err)
	return err
}
