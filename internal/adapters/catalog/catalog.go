package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"adinventory/internal/domain"
)

// Catalog is the static configuration of sellable areas and house promotions.
type Catalog struct {
	Neighborhoods []domain.Neighborhood
	Promotions    []domain.HousePromotion
}

type neighborhoodEntry struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	City       string   `yaml:"city"`
	Tier       int      `yaml:"tier"`
	Components []string `yaml:"components"`
}

type file struct {
	Neighborhoods []neighborhoodEntry      `yaml:"neighborhoods"`
	Promotions    []domain.HousePromotion `yaml:"house_promotions"`
}

// Load reads and validates a catalog file.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog. A neighborhood with components is a combo; components
// must be plain neighborhoods defined in the same file.
func Parse(data []byte) (Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}

	byID := make(map[string]neighborhoodEntry, len(f.Neighborhoods))
	for _, e := range f.Neighborhoods {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			return Catalog{}, fmt.Errorf("neighborhood without id")
		}
		if _, dup := byID[e.ID]; dup {
			return Catalog{}, fmt.Errorf("neighborhood %s defined twice", e.ID)
		}
		if !domain.ValidTier(e.Tier) {
			return Catalog{}, fmt.Errorf("neighborhood %s: tier %d: %w", e.ID, e.Tier, domain.ErrUnknownTier)
		}
		byID[e.ID] = e
	}

	var cat Catalog
	for _, e := range f.Neighborhoods {
		n := domain.Neighborhood{
			ID:           strings.TrimSpace(e.ID),
			Name:         e.Name,
			City:         e.City,
			Tier:         e.Tier,
			IsCombo:      len(e.Components) > 0,
			ComponentIDs: e.Components,
		}
		for _, c := range e.Components {
			comp, ok := byID[c]
			if !ok {
				return Catalog{}, fmt.Errorf("combo %s: unknown component %s", n.ID, c)
			}
			if len(comp.Components) > 0 {
				return Catalog{}, fmt.Errorf("combo %s: component %s is itself a combo", n.ID, c)
			}
		}
		if n.Name == "" {
			n.Name = n.ID
		}
		cat.Neighborhoods = append(cat.Neighborhoods, n)
	}

	for _, p := range f.Promotions {
		if err := validatePromotion(p, byID); err != nil {
			return Catalog{}, err
		}
		cat.Promotions = append(cat.Promotions, p)
	}
	return cat, nil
}

func validatePromotion(p domain.HousePromotion, neighborhoods map[string]neighborhoodEntry) error {
	if p.ID == "" {
		return fmt.Errorf("house promotion without id")
	}
	if p.Creative.Headline == "" {
		return fmt.Errorf("house promotion %s: headline is required", p.ID)
	}
	switch p.Level {
	case domain.PromoNeighborhood:
		if _, ok := neighborhoods[p.NeighborhoodID]; !ok {
			return fmt.Errorf("house promotion %s: unknown neighborhood %q", p.ID, p.NeighborhoodID)
		}
	case domain.PromoCity:
		if p.City == "" {
			return fmt.Errorf("house promotion %s: city is required", p.ID)
		}
	case domain.PromoGlobal:
	default:
		return fmt.Errorf("house promotion %s: unknown level %q", p.ID, p.Level)
	}
	if p.ActiveFrom != nil && p.ActiveUntil != nil && p.ActiveUntil.Before(*p.ActiveFrom) {
		return fmt.Errorf("house promotion %s: window ends before it starts", p.ID)
	}
	return nil
}

// Upserter stores directory entries.
type Upserter interface {
	UpsertNeighborhood(ctx context.Context, n domain.Neighborhood) error
}

// Seed writes every neighborhood. Components go first so combos never reference a missing row.
func Seed(ctx context.Context, store Upserter, cat Catalog) error {
	for _, combos := range []bool{false, true} {
		for _, n := range cat.Neighborhoods {
			if n.IsCombo != combos {
				continue
			}
			if err := store.UpsertNeighborhood(ctx, n); err != nil {
				return fmt.Errorf("seed neighborhood %s: %w", n.ID, err)
			}
		}
	}
	return nil
}
