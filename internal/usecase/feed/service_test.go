package feed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"adinventory/internal/adapters/memstore"
	"adinventory/internal/domain"
	"adinventory/internal/infra/clock"
)

func seededStore(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	for _, n := range []domain.Neighborhood{
		{ID: "mission", Name: "Mission", City: "sf", Tier: 1},
		{ID: "soma", Name: "SoMa", City: "sf", Tier: 2},
		{ID: "east-side", Name: "East Side", City: "sf", Tier: 3, IsCombo: true, ComponentIDs: []string{"mission", "soma"}},
		{ID: "williamsburg", Name: "Williamsburg", City: "nyc", Tier: 2},
	} {
		if err := store.UpsertNeighborhood(ctx, n); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return store
}

func TestSelectFallbackCascade(t *testing.T) {
	store := seededStore(t)
	until := time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC)
	promos := []domain.HousePromotion{
		{ID: "mission-events", Level: domain.PromoNeighborhood, NeighborhoodID: "mission", Priority: 1},
		{ID: "mission-expired", Level: domain.PromoNeighborhood, NeighborhoodID: "mission", Priority: 9, ActiveUntil: &until},
		{ID: "sf-newsletter", Level: domain.PromoCity, City: "sf", Priority: 1},
		{ID: "sf-podcast", Level: domain.PromoCity, City: "sf", Priority: 5},
		{ID: "global-b", Level: domain.PromoGlobal},
		{ID: "global-a", Level: domain.PromoGlobal},
	}
	sel := NewSelector(store, promos, zerolog.Nop())
	date := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		neighborhood string
		want         string
	}{
		{"mission", "mission-events"},
		{"soma", "sf-podcast"},
		{"williamsburg", "global-a"},
		{"unknown", "global-a"},
	}
	for _, tc := range cases {
		got := sel.SelectFallback(context.Background(), tc.neighborhood, FallbackContext{Date: date})
		if got.PromotionID != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.neighborhood, got.PromotionID, tc.want)
		}
	}

	before := sel.SelectFallback(context.Background(), "mission", FallbackContext{Date: until})
	if before.PromotionID != "mission-expired" {
		t.Fatalf("higher priority promotion inside its window should win, got %s", before.PromotionID)
	}
}

func TestSelectFallbackBuiltin(t *testing.T) {
	sel := NewSelector(seededStore(t), nil, zerolog.Nop())
	got := sel.SelectFallback(context.Background(), "mission", FallbackContext{})
	if got.PromotionID != BuiltinFallback.PromotionID || got.Creative.Headline == "" {
		t.Fatalf("expected builtin fallback, got %+v", got)
	}
}

func TestSelectFallbackWithoutDateUsesClock(t *testing.T) {
	until := time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC)
	from := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	promos := []domain.HousePromotion{
		{ID: "october", Level: domain.PromoGlobal, Priority: 1, ActiveUntil: &until},
		{ID: "november", Level: domain.PromoGlobal, Priority: 1, ActiveFrom: &from},
	}

	cases := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), "october"},
		{time.Date(2026, 11, 3, 9, 0, 0, 0, time.UTC), "november"},
	}
	for _, tc := range cases {
		sel := NewSelector(seededStore(t), promos, zerolog.Nop(), WithSelectorClock(clock.NewFixed(tc.now)))
		got := sel.SelectFallback(context.Background(), "mission", FallbackContext{})
		if got.PromotionID != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.now.Format(time.DateOnly), got.PromotionID, tc.want)
		}
	}
}

func TestServiceExpandsCombosAndFallsBack(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	now := time.Date(2026, 11, 3, 12, 0, 0, 0, time.UTC)
	day := domain.DateOf(now)

	for _, a := range []domain.Ad{
		{ID: "soma-ad", Status: domain.AdActive, Paid: true, StartDate: day, EndDate: day, Targeting: domain.Targeting{NeighborhoodIDs: []string{"soma"}}},
		{ID: "nyc-ad", Status: domain.AdActive, Paid: true, StartDate: day, EndDate: day, Targeting: domain.Targeting{NeighborhoodIDs: []string{"williamsburg"}}},
		{ID: "paused", Status: domain.AdPaused, Paid: true, StartDate: day, EndDate: day, Targeting: domain.Targeting{NeighborhoodIDs: []string{"mission"}}},
	} {
		if err := store.CreateAd(ctx, a); err != nil {
			t.Fatalf("create ad: %v", err)
		}
	}
	sel := NewSelector(store, []domain.HousePromotion{{ID: "sf-house", Level: domain.PromoCity, City: "sf"}}, zerolog.Nop())
	svc := NewService(store, store, sel, 3, clock.NewFixed(now), zerolog.Nop())

	story, err := svc.Story(ctx, "east-side", time.Time{})
	if err != nil {
		t.Fatalf("story: %v", err)
	}
	if story.Top.Ad == nil || story.Top.Ad.ID != "soma-ad" || story.Bottom.Ad.ID != "soma-ad" {
		t.Fatalf("combo should see component ads: %+v", story)
	}

	items, err := svc.Inject(ctx, "mission", time.Time{}, content(6))
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if kinds(items) != "cccHcccH" {
		t.Fatalf("kinds = %s", kinds(items))
	}
	if items[3].Fallback.PromotionID != "sf-house" {
		t.Fatalf("fallback = %+v", items[3].Fallback)
	}

	if _, err := svc.Story(ctx, "atlantis", time.Time{}); err == nil {
		t.Fatalf("expected error for unknown neighborhood")
	}
}

func TestServiceShowsGlobalAdsEverywhere(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	now := time.Date(2026, 11, 3, 12, 0, 0, 0, time.UTC)
	day := domain.DateOf(now)
	if err := store.CreateAd(ctx, domain.Ad{ID: "citywide", Status: domain.AdActive, Paid: true, StartDate: day, EndDate: day.AddDate(0, 0, 7)}); err != nil {
		t.Fatalf("create ad: %v", err)
	}
	svc := NewService(store, store, nil, 2, clock.NewFixed(now), zerolog.Nop())

	items, err := svc.Inject(ctx, "williamsburg", time.Time{}, content(4))
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if kinds(items) != "ccAccA" || items[2].Ad.ID != "citywide" {
		t.Fatalf("unexpected feed: %s", kinds(items))
	}
}
