package domain

import "context"

// Neighborhood describes a sellable area as resolved by the directory.
type Neighborhood struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	City         string   `json:"city"`
	Tier         int      `json:"tier"`
	IsCombo      bool     `json:"is_combo"`
	ComponentIDs []string `json:"component_ids,omitempty"`
}

// Directory resolves neighborhoods. It is read-only for the engine.
type Directory interface {
	GetNeighborhood(ctx context.Context, id string) (Neighborhood, error)
	// ListComponents returns the ordered component ids of a combo.
	// For a non-combo neighborhood it returns an empty list.
	ListComponents(ctx context.Context, comboID string) ([]string, error)
	// CombosContaining is the back-reference index: combos that list id as a component.
	CombosContaining(ctx context.Context, id string) ([]string, error)
}

// ValidTier reports whether tier is one of the priced tiers.
func ValidTier(tier int) bool {
	return tier >= 1 && tier <= 3
}

// ExposureIDs returns the neighborhood ids whose inventory a booking of n reserves:
// the neighborhood itself followed by its components.
func (n Neighborhood) ExposureIDs() []string {
	ids := make([]string, 0, len(n.ComponentIDs)+1)
	ids = append(ids, n.ID)
	if n.IsCombo {
		ids = append(ids, n.ComponentIDs...)
	}
	return ids
}
