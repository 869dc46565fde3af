package domain

import (
	"context"
	"fmt"
	"time"
)

// AdStatus is the moderation and delivery state of an ad.
type AdStatus string

const (
	AdPendingReview AdStatus = "pending_review"
	AdApproved      AdStatus = "approved"
	AdActive        AdStatus = "active"
	AdPaused        AdStatus = "paused"
	AdRejected      AdStatus = "rejected"
)

// Targeting lists the neighborhoods an ad is shown in. An empty list means global.
type Targeting struct {
	NeighborhoodIDs []string `json:"neighborhood_ids,omitempty"`
	City            string   `json:"city,omitempty"`
}

// Ad is a creative with its targeting and campaign window.
type Ad struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id,omitempty"`
	OrderLineID string `json:"order_line_id,omitempty"`
	// NeighborhoodID is the neighborhood the line was bought for; empty for global ads.
	NeighborhoodID string        `json:"neighborhood_id,omitempty"`
	Placement      PlacementType `json:"placement_type"`
	Status         AdStatus      `json:"status"`
	Paid           bool          `json:"paid"`
	StartDate      time.Time     `json:"start_date"`
	EndDate        time.Time     `json:"end_date"`
	Targeting      Targeting     `json:"targeting"`
	Creative       Creative      `json:"creative"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Global reports whether the ad is not scoped to any neighborhood.
func (a Ad) Global() bool {
	return len(a.Targeting.NeighborhoodIDs) == 0
}

// ScopedTo reports whether the ad targets any of ids.
func (a Ad) ScopedTo(ids []string) bool {
	for _, target := range a.Targeting.NeighborhoodIDs {
		if containsString(ids, target) {
			return true
		}
	}
	return false
}

// RunsOn reports whether the ad is delivering on date.
func (a Ad) RunsOn(date time.Time) bool {
	if a.Status != AdActive {
		return false
	}
	d := DateOf(date)
	return !d.Before(DateOf(a.StartDate)) && !d.After(DateOf(a.EndDate))
}

func invalidTransition(from AdStatus, action string) error {
	return fmt.Errorf("%w: cannot %s ad in status %s", ErrInvalidTransition, action, from)
}

// Approve moves a reviewed ad forward. A paid ad goes straight to active.
func (a *Ad) Approve() error {
	if a.Status != AdPendingReview {
		return invalidTransition(a.Status, "approve")
	}
	a.Status = AdApproved
	if a.Paid {
		a.Status = AdActive
	}
	return nil
}

// Reject is only reachable from review.
func (a *Ad) Reject() error {
	if a.Status != AdPendingReview {
		return invalidTransition(a.Status, "reject")
	}
	a.Status = AdRejected
	return nil
}

// Activate records payment and the campaign window. Approved ads start delivering; ads still
// in review wait for approval. Activating an already delivering ad with the same window is a no-op.
func (a *Ad) Activate(start, end time.Time) error {
	start, end = DateOf(start), DateOf(end)
	switch a.Status {
	case AdApproved:
		a.Status = AdActive
	case AdPendingReview:
	case AdActive, AdPaused:
		if a.Paid && a.StartDate.Equal(start) && a.EndDate.Equal(end) {
			return nil
		}
		return invalidTransition(a.Status, "activate")
	default:
		return invalidTransition(a.Status, "activate")
	}
	a.Paid = true
	a.StartDate = start
	a.EndDate = end
	return nil
}

// Pause stops delivery. The window is kept: paused days still count toward the campaign.
func (a *Ad) Pause() error {
	if a.Status != AdActive {
		return invalidTransition(a.Status, "pause")
	}
	a.Status = AdPaused
	return nil
}

// Resume restarts delivery within the original window.
func (a *Ad) Resume() error {
	if a.Status != AdPaused {
		return invalidTransition(a.Status, "resume")
	}
	a.Status = AdActive
	return nil
}

// AdRepo stores ads.
type AdRepo interface {
	CreateAd(ctx context.Context, ad Ad) error
	GetAd(ctx context.Context, id string) (Ad, error)
	GetAdByLine(ctx context.Context, lineID string) (Ad, error)
	UpdateAd(ctx context.Context, ad Ad) error
	// ListDeliverableAds returns active ads running on date that are global or target any of
	// neighborhoodIDs.
	ListDeliverableAds(ctx context.Context, date time.Time, neighborhoodIDs []string) ([]Ad, error)
}
