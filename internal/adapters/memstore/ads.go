package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"adinventory/internal/domain"
)

func cloneAd(ad domain.Ad) domain.Ad {
	ad.Targeting.NeighborhoodIDs = append([]string(nil), ad.Targeting.NeighborhoodIDs...)
	return ad
}

func (s *Store) CreateAd(ctx context.Context, ad domain.Ad) error {
	defer s.lock(ctx)()
	if _, ok := s.ads[ad.ID]; ok {
		return fmt.Errorf("ad %s already exists", ad.ID)
	}
	if s.adWriteFault != nil {
		if err := s.adWriteFault(ad); err != nil {
			return err
		}
	}
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = s.now()
	}
	ad.UpdatedAt = ad.CreatedAt
	s.ads[ad.ID] = cloneAd(ad)
	return nil
}

func (s *Store) GetAd(ctx context.Context, id string) (domain.Ad, error) {
	defer s.lock(ctx)()
	ad, ok := s.ads[id]
	if !ok {
		return domain.Ad{}, domain.ErrAdNotFound
	}
	return cloneAd(ad), nil
}

func (s *Store) GetAdByLine(ctx context.Context, lineID string) (domain.Ad, error) {
	defer s.lock(ctx)()
	for _, ad := range s.ads {
		if ad.OrderLineID == lineID {
			return cloneAd(ad), nil
		}
	}
	return domain.Ad{}, domain.ErrAdNotFound
}

func (s *Store) UpdateAd(ctx context.Context, ad domain.Ad) error {
	defer s.lock(ctx)()
	if _, ok := s.ads[ad.ID]; !ok {
		return domain.ErrAdNotFound
	}
	if s.adWriteFault != nil {
		if err := s.adWriteFault(ad); err != nil {
			return err
		}
	}
	ad.UpdatedAt = s.now()
	s.ads[ad.ID] = cloneAd(ad)
	return nil
}

func (s *Store) ListDeliverableAds(ctx context.Context, date time.Time, neighborhoodIDs []string) ([]domain.Ad, error) {
	defer s.lock(ctx)()
	var out []domain.Ad
	for _, ad := range s.ads {
		if !ad.RunsOn(date) {
			continue
		}
		if ad.Global() || ad.ScopedTo(neighborhoodIDs) {
			out = append(out, cloneAd(ad))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
