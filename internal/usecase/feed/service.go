package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"adinventory/internal/domain"
	"adinventory/internal/infra/clock"
	"adinventory/internal/infra/metrics"
)

// AdSource lists ads that may be delivered.
type AdSource interface {
	ListDeliverableAds(ctx context.Context, date time.Time, neighborhoodIDs []string) ([]domain.Ad, error)
}

// Service annotates content with ads at render time.
type Service struct {
	ads      AdSource
	dir      domain.Directory
	selector *Selector
	cadence  int
	clock    clock.Clock
	log      zerolog.Logger
}

// NewService creates the feed service. cadence is the number of content items between ads.
func NewService(ads AdSource, dir domain.Directory, selector *Selector, cadence int, c clock.Clock, log zerolog.Logger) *Service {
	if c == nil {
		c = clock.NewSystem()
	}
	return &Service{ads: ads, dir: dir, selector: selector, cadence: cadence, clock: c, log: log}
}

// Inject returns content with ads inserted for the neighborhood. A zero date means today.
func (s *Service) Inject(ctx context.Context, neighborhoodID string, date time.Time, content []domain.ContentItem) ([]domain.FeedItem, error) {
	date = s.renderDate(date)
	ads, err := s.eligible(ctx, neighborhoodID, date)
	if err != nil {
		return nil, err
	}
	var fallback domain.FallbackAd
	if len(ads) == 0 && Slots(len(content), s.cadence) > 0 {
		fallback = s.fallback(ctx, neighborhoodID, date)
		metrics.FeedFallbacks.WithLabelValues(string(fallback.Level)).Add(float64(Slots(len(content), s.cadence)))
	}
	return InjectAds(content, ads, fallback, s.cadence), nil
}

// Story returns the story-open placement for the neighborhood.
func (s *Service) Story(ctx context.Context, neighborhoodID string, date time.Time) (domain.StoryPlacement, error) {
	date = s.renderDate(date)
	ads, err := s.eligible(ctx, neighborhoodID, date)
	if err != nil {
		return domain.StoryPlacement{}, err
	}
	var fallback domain.FallbackAd
	if len(ads) == 0 {
		fallback = s.fallback(ctx, neighborhoodID, date)
		metrics.FeedFallbacks.WithLabelValues(string(fallback.Level)).Add(2)
	}
	return StoryAds(ads, fallback), nil
}

// eligible returns ranked ads for the neighborhood. A combo is expanded to its components.
// A failing ad lookup degrades to the fallback instead of failing the page.
func (s *Service) eligible(ctx context.Context, neighborhoodID string, date time.Time) ([]domain.Ad, error) {
	n, err := s.dir.GetNeighborhood(ctx, neighborhoodID)
	if err != nil {
		return nil, fmt.Errorf("get neighborhood: %w", err)
	}
	scope := n.ExposureIDs()
	ads, err := s.ads.ListDeliverableAds(ctx, date, scope)
	if err != nil {
		s.log.Error().Err(err).Str("neighborhood_id", neighborhoodID).Msg("feed: list ads failed, serving fallback")
		return nil, nil
	}
	SortByPriority(ads, scope)
	return ads, nil
}

func (s *Service) fallback(ctx context.Context, neighborhoodID string, date time.Time) domain.FallbackAd {
	if s.selector == nil {
		return BuiltinFallback
	}
	return s.selector.SelectFallback(ctx, neighborhoodID, FallbackContext{Date: date})
}

func (s *Service) renderDate(date time.Time) time.Time {
	if date.IsZero() {
		return domain.DateOf(s.clock.Now())
	}
	return domain.DateOf(date)
}
