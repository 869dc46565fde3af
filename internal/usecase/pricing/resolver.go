package pricing

import (
	"fmt"

	"adinventory/internal/domain"
)

// TierPrices holds both placement prices of one tier, in cents.
type TierPrices struct {
	Daily  int64
	Weekly int64
}

// Table maps tiers 1..3 to their prices.
type Table map[int]TierPrices

// NewTable builds and validates a table.
func NewTable(prices map[int]TierPrices) (Table, error) {
	t := Table(prices)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that every tier is priced and that weekly is dearer than daily.
func (t Table) Validate() error {
	for tier := 1; tier <= 3; tier++ {
		p, ok := t[tier]
		if !ok {
			return fmt.Errorf("tier %d: %w", tier, domain.ErrUnknownTier)
		}
		if p.Daily <= 0 || p.Weekly <= 0 {
			return fmt.Errorf("tier %d: prices must be positive", tier)
		}
		if p.Weekly <= p.Daily {
			return fmt.Errorf("tier %d: weekly price %d must exceed daily price %d", tier, p.Weekly, p.Daily)
		}
	}
	for tier := range t {
		if !domain.ValidTier(tier) {
			return fmt.Errorf("tier %d: %w", tier, domain.ErrUnknownTier)
		}
	}
	return nil
}

// Resolve returns the price of placement in tier.
func (t Table) Resolve(tier int, placement domain.PlacementType) (int64, error) {
	p, ok := t[tier]
	if !ok {
		return 0, fmt.Errorf("tier %d: %w", tier, domain.ErrUnknownTier)
	}
	switch placement {
	case domain.PlacementDaily:
		return p.Daily, nil
	case domain.PlacementWeekly:
		return p.Weekly, nil
	default:
		return 0, fmt.Errorf("unknown placement type %q", placement)
	}
}

// ForNeighborhood prices n by its own tier. Combos are never priced from their components.
func (t Table) ForNeighborhood(n domain.Neighborhood, placement domain.PlacementType) (int64, error) {
	return t.Resolve(n.Tier, placement)
}
