package feed

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"adinventory/internal/domain"
	"adinventory/internal/infra/clock"
)

// FallbackContext carries what the cascade may depend on.
type FallbackContext struct {
	Date time.Time
}

// BuiltinFallback is served when nothing else is configured.
var BuiltinFallback = domain.FallbackAd{
	PromotionID: "builtin-advertise-here",
	Level:       domain.PromoGlobal,
	Creative: domain.Creative{
		Headline: "Advertise in your neighborhood",
		Body:     "Reach local readers from $100 a day.",
		ClickURL: "/advertise",
	},
}

// Selector picks house promotions through the neighborhood, city and global levels.
type Selector struct {
	dir    domain.Directory
	promos []domain.HousePromotion
	clock  clock.Clock
	log    zerolog.Logger
}

type SelectorOption func(*Selector)

// WithSelectorClock sets the clock used when a request carries no date.
func WithSelectorClock(c clock.Clock) SelectorOption {
	return func(s *Selector) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewSelector creates a selector over promos. The slice is copied and ranked once.
func NewSelector(dir domain.Directory, promos []domain.HousePromotion, log zerolog.Logger, opts ...SelectorOption) *Selector {
	ranked := append([]domain.HousePromotion(nil), promos...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority > ranked[j].Priority
		}
		return ranked[i].ID < ranked[j].ID
	})
	s := &Selector{dir: dir, promos: ranked, clock: clock.NewSystem(), log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectFallback always returns an ad.
func (s *Selector) SelectFallback(ctx context.Context, neighborhoodID string, fc FallbackContext) domain.FallbackAd {
	date := fc.Date
	if date.IsZero() {
		date = s.clock.Now().UTC()
	}

	if p, ok := s.pick(date, func(p domain.HousePromotion) bool {
		return p.Level == domain.PromoNeighborhood && p.NeighborhoodID == neighborhoodID
	}); ok {
		return p
	}

	var city string
	if s.dir != nil && neighborhoodID != "" {
		n, err := s.dir.GetNeighborhood(ctx, neighborhoodID)
		if err != nil {
			s.log.Warn().Err(err).Str("neighborhood_id", neighborhoodID).Msg("fallback: city lookup failed")
		} else {
			city = n.City
		}
	}
	if city != "" {
		if p, ok := s.pick(date, func(p domain.HousePromotion) bool {
			return p.Level == domain.PromoCity && p.City == city
		}); ok {
			return p
		}
	}

	if p, ok := s.pick(date, func(p domain.HousePromotion) bool {
		return p.Level == domain.PromoGlobal
	}); ok {
		return p
	}
	return BuiltinFallback
}

func (s *Selector) pick(date time.Time, match func(domain.HousePromotion) bool) (domain.FallbackAd, bool) {
	for _, p := range s.promos {
		if match(p) && p.ActiveOn(date) {
			return domain.FallbackAd{PromotionID: p.ID, Level: p.Level, Creative: p.Creative}, true
		}
	}
	return domain.FallbackAd{}, false
}
