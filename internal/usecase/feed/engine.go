package feed

import (
	"sort"

	"adinventory/internal/domain"
)

// SortByPriority orders ads for one render: ads scoped to any of scope come before global
// ads, then the earliest start date wins, then the id.
func SortByPriority(ads []domain.Ad, scope []string) {
	sort.SliceStable(ads, func(i, j int) bool {
		li, lj := ads[i].ScopedTo(scope), ads[j].ScopedTo(scope)
		if li != lj {
			return li
		}
		if !ads[i].StartDate.Equal(ads[j].StartDate) {
			return ads[i].StartDate.Before(ads[j].StartDate)
		}
		return ads[i].ID < ads[j].ID
	})
}

// InjectAds places an ad after every cadence-th content item. Ads are taken in the given
// order and rotate when there are more positions than ads. With no ads the fallback fills
// every position. Content keeps its order and nothing is dropped.
func InjectAds(content []domain.ContentItem, ads []domain.Ad, fallback domain.FallbackAd, cadence int) []domain.FeedItem {
	if cadence <= 0 {
		cadence = len(content) + 1
	}
	out := make([]domain.FeedItem, 0, len(content)+len(content)/cadence)
	slot := 0
	for i := range content {
		c := content[i]
		out = append(out, domain.FeedItem{Kind: domain.FeedContent, Content: &c})
		if (i+1)%cadence != 0 {
			continue
		}
		out = append(out, adItem(ads, slot, fallback))
		slot++
	}
	return out
}

// StoryAds fills the top and bottom of a story. A single ad is used for both positions;
// without ads both get the fallback.
func StoryAds(ads []domain.Ad, fallback domain.FallbackAd) domain.StoryPlacement {
	switch len(ads) {
	case 0:
		return domain.StoryPlacement{Top: fallbackItem(fallback), Bottom: fallbackItem(fallback)}
	case 1:
		return domain.StoryPlacement{Top: paidItem(ads[0]), Bottom: paidItem(ads[0])}
	default:
		return domain.StoryPlacement{Top: paidItem(ads[0]), Bottom: paidItem(ads[1])}
	}
}

// Slots returns how many ad positions InjectAds creates for n content items.
func Slots(n, cadence int) int {
	if cadence <= 0 {
		return 0
	}
	return n / cadence
}

func adItem(ads []domain.Ad, slot int, fallback domain.FallbackAd) domain.FeedItem {
	if len(ads) == 0 {
		return fallbackItem(fallback)
	}
	return paidItem(ads[slot%len(ads)])
}

func paidItem(ad domain.Ad) domain.FeedItem {
	return domain.FeedItem{Kind: domain.FeedPaidAd, Ad: &ad}
}

func fallbackItem(fb domain.FallbackAd) domain.FeedItem {
	return domain.FeedItem{Kind: domain.FeedHouseAd, Fallback: &fb}
}
