package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"adinventory/internal/domain"
)

// BlockSlot places an administrative hold on an open slot.
func (s *Service) BlockSlot(ctx context.Context, key domain.SlotKey) error {
	key = key.Normalize()
	if _, err := s.dir.GetNeighborhood(ctx, key.NeighborhoodID); err != nil {
		return err
	}
	if err := s.store.BlockSlot(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx, []domain.SlotKey{key})
	s.log.Info().Str("slot", key.String()).Msg("slot blocked")
	return nil
}

// UnblockSlot lifts a hold. Booked slots are not touched.
func (s *Service) UnblockSlot(ctx context.Context, key domain.SlotKey) error {
	key = key.Normalize()
	if err := s.store.UnblockSlot(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx, []domain.SlotKey{key})
	s.log.Info().Str("slot", key.String()).Msg("slot unblocked")
	return nil
}

// ApproveAd passes moderation. A paid ad starts delivering immediately.
func (s *Service) ApproveAd(ctx context.Context, adID string) (domain.Ad, error) {
	return s.moderate(ctx, adID, "approve", (*domain.Ad).Approve)
}

// RejectAd fails moderation. Rejecting a paid ad asks operators for a refund.
func (s *Service) RejectAd(ctx context.Context, adID, reason string) (domain.Ad, error) {
	ad, err := s.moderate(ctx, adID, "reject", (*domain.Ad).Reject)
	if err != nil {
		return ad, err
	}
	if ad.Paid && ad.OrderID != "" {
		if reason == "" {
			reason = "creative rejected"
		}
		s.enqueue(ctx, domain.OpsTask{Kind: domain.OpsRefund, OrderID: ad.OrderID, LineIDs: []string{ad.OrderLineID}, Reason: reason})
	}
	return ad, nil
}

func (s *Service) PauseAd(ctx context.Context, adID string) (domain.Ad, error) {
	return s.moderate(ctx, adID, "pause", (*domain.Ad).Pause)
}

func (s *Service) ResumeAd(ctx context.Context, adID string) (domain.Ad, error) {
	return s.moderate(ctx, adID, "resume", (*domain.Ad).Resume)
}

func (s *Service) moderate(ctx context.Context, adID, action string, apply func(*domain.Ad) error) (domain.Ad, error) {
	var ad domain.Ad
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		ad, err = s.store.GetAd(ctx, adID)
		if err != nil {
			return err
		}
		if err := apply(&ad); err != nil {
			return err
		}
		ad.UpdatedAt = s.clock.Now().UTC()
		return s.store.UpdateAd(ctx, ad)
	})
	if err != nil {
		return domain.Ad{}, err
	}
	s.log.Info().Str("ad_id", adID).Str("action", action).Str("status", string(ad.Status)).Msg("ad moderated")
	return ad, nil
}

// SponsorAd describes an ad sold outside the checkout, such as a citywide sponsorship.
type SponsorAd struct {
	NeighborhoodIDs []string
	City            string
	Placement       domain.PlacementType
	Start           time.Time
	End             time.Time
	Creative        domain.Creative
}

// CreateSponsorAd stores an approved, paid ad without an order. Empty NeighborhoodIDs make
// it global.
func (s *Service) CreateSponsorAd(ctx context.Context, req SponsorAd) (domain.Ad, error) {
	start, end := domain.DateOf(req.Start), domain.DateOf(req.End)
	if end.Before(start) {
		return domain.Ad{}, fmt.Errorf("end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if strings.TrimSpace(req.Creative.Headline) == "" {
		return domain.Ad{}, fmt.Errorf("%w: headline is required", domain.ErrInvalidCreative)
	}
	for _, id := range req.NeighborhoodIDs {
		if _, err := s.dir.GetNeighborhood(ctx, id); err != nil {
			return domain.Ad{}, err
		}
	}
	if req.Placement == "" {
		req.Placement = domain.PlacementDaily
	}
	now := s.clock.Now().UTC()
	ad := domain.Ad{
		ID:        s.newID(),
		Placement: req.Placement,
		Status:    domain.AdApproved,
		Targeting: domain.Targeting{NeighborhoodIDs: req.NeighborhoodIDs, City: req.City},
		Creative:  req.Creative,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(req.NeighborhoodIDs) == 1 {
		ad.NeighborhoodID = req.NeighborhoodIDs[0]
	}
	if err := ad.Activate(start, end); err != nil {
		return domain.Ad{}, err
	}
	if err := s.store.CreateAd(ctx, ad); err != nil {
		return domain.Ad{}, fmt.Errorf("create ad: %w", err)
	}
	s.log.Info().Str("ad_id", ad.ID).Bool("global", ad.Global()).Msg("sponsor ad created")
	return ad, nil
}
