package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"adinventory/internal/domain"
	"adinventory/internal/infra/clock"
	"adinventory/internal/usecase/pricing"
)

// SlotReader lists stored slot rows.
type SlotReader interface {
	ListSlots(ctx context.Context, q domain.SlotQuery) ([]domain.InventorySlot, error)
}

// ViewCache stores rendered views for a short time.
type ViewCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Service computes booking calendars.
type Service struct {
	slots    SlotReader
	dir      domain.Directory
	prices   pricing.Table
	cal      domain.Calendar
	clock    clock.Clock
	cache    ViewCache
	cacheTTL time.Duration
	log      zerolog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithCache enables view caching.
func WithCache(cache ViewCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// NewService creates the calculator.
func NewService(slots SlotReader, dir domain.Directory, prices pricing.Table, cal domain.Calendar, opts ...Option) *Service {
	s := &Service{
		slots:    slots,
		dir:      dir,
		prices:   prices,
		cal:      cal,
		clock:    clock.NewSystem(),
		cacheTTL: 30 * time.Second,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAvailability returns the calendar of one neighborhood, placement and month. For a
// combo, a date is unavailable when the combo or any of its components is.
func (s *Service) GetAvailability(ctx context.Context, neighborhoodID string, placement domain.PlacementType, month time.Time) (domain.AvailabilityView, error) {
	now := s.clock.Now()
	if !s.cal.InHorizon(now, month) {
		return domain.AvailabilityView{}, domain.ErrOutOfHorizon
	}
	n, err := s.dir.GetNeighborhood(ctx, neighborhoodID)
	if err != nil {
		return domain.AvailabilityView{}, fmt.Errorf("get neighborhood: %w", err)
	}
	price, err := s.prices.ForNeighborhood(n, placement)
	if err != nil {
		return domain.AvailabilityView{}, fmt.Errorf("resolve price: %w", err)
	}

	first := domain.MonthOf(month)
	key := cacheKey(n.ID, placement, first)
	if view, ok := s.cached(ctx, key); ok {
		return view, nil
	}

	slots, err := s.slots.ListSlots(ctx, domain.SlotQuery{
		NeighborhoodIDs: n.ExposureIDs(),
		Placement:       placement,
		From:            first,
		To:              first.AddDate(0, 1, 0),
		States:          []domain.SlotState{domain.SlotBooked, domain.SlotBlocked},
	})
	if err != nil {
		return domain.AvailabilityView{}, fmt.Errorf("list slots: %w", err)
	}

	booked := make(map[time.Time]struct{})
	blocked := make(map[time.Time]struct{})
	for _, slot := range slots {
		d := domain.DateOf(slot.Date)
		switch slot.State {
		case domain.SlotBooked:
			booked[d] = struct{}{}
		case domain.SlotBlocked:
			blocked[d] = struct{}{}
		}
	}
	for d := range booked {
		delete(blocked, d)
	}

	today := domain.DateOf(now)
	var sellable []string
	for d := first; d.Month() == first.Month(); d = d.AddDate(0, 0, 1) {
		if d.Before(today) || !s.cal.Allows(placement, d) {
			continue
		}
		if _, ok := booked[d]; ok {
			continue
		}
		if _, ok := blocked[d]; ok {
			continue
		}
		sellable = append(sellable, d.Format(time.DateOnly))
	}

	view := domain.AvailabilityView{
		NeighborhoodID: n.ID,
		Placement:      placement,
		Month:          first.Format("2006-01"),
		BookedDates:    formatDates(booked),
		BlockedDates:   formatDates(blocked),
		SellableDates:  sellable,
		PriceCents:     price,
		Tier:           n.Tier,
	}
	if view.SellableDates == nil {
		view.SellableDates = []string{}
	}
	s.store(ctx, key, view)
	return view, nil
}

// Invalidate drops cached views touched by keys, including views of combos that
// contain an affected neighborhood.
func (s *Service) Invalidate(ctx context.Context, keys []domain.SlotKey) {
	if s.cache == nil || len(keys) == 0 {
		return
	}
	seen := make(map[string]struct{})
	var cacheKeys []string
	add := func(id string, k domain.SlotKey) {
		ck := cacheKey(id, k.Placement, domain.MonthOf(k.Date))
		if _, ok := seen[ck]; ok {
			return
		}
		seen[ck] = struct{}{}
		cacheKeys = append(cacheKeys, ck)
	}
	for _, k := range keys {
		add(k.NeighborhoodID, k)
		combos, err := s.dir.CombosContaining(ctx, k.NeighborhoodID)
		if err != nil {
			s.log.Warn().Err(err).Str("neighborhood", k.NeighborhoodID).Msg("availability: combo lookup failed during invalidation")
			continue
		}
		for _, combo := range combos {
			add(combo, k)
		}
	}
	if err := s.cache.Delete(ctx, cacheKeys...); err != nil {
		s.log.Warn().Err(err).Int("keys", len(cacheKeys)).Msg("availability: cache invalidation failed")
	}
}

func (s *Service) cached(ctx context.Context, key string) (domain.AvailabilityView, bool) {
	if s.cache == nil {
		return domain.AvailabilityView{}, false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return domain.AvailabilityView{}, false
	}
	var view domain.AvailabilityView
	if err := json.Unmarshal(data, &view); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("availability: dropping undecodable cache entry")
		return domain.AvailabilityView{}, false
	}
	return view, true
}

func (s *Service) store(ctx context.Context, key string, view domain.AvailabilityView) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("availability: cache write failed")
	}
}

func cacheKey(id string, placement domain.PlacementType, month time.Time) string {
	return fmt.Sprintf("availability:%s:%s:%s", id, placement, month.Format("2006-01"))
}

func formatDates(set map[time.Time]struct{}) []string {
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d.Format(time.DateOnly))
	}
	sort.Strings(out)
	return out
}

