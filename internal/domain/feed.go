package domain

import "time"

// ContentItem is an opaque piece of rendered content. The engine only orders it.
type ContentItem struct {
	ID    string         `json:"id"`
	Kind  string         `json:"kind,omitempty"`
	Title string         `json:"title,omitempty"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// FeedItemKind tells a renderer what a feed item holds.
type FeedItemKind string

const (
	FeedContent FeedItemKind = "content"
	FeedPaidAd  FeedItemKind = "ad"
	FeedHouseAd FeedItemKind = "house_ad"
)

// FeedItem is either a content item or an ad. It exists only for a single render.
type FeedItem struct {
	Kind     FeedItemKind `json:"kind"`
	Content  *ContentItem `json:"content,omitempty"`
	Ad       *Ad          `json:"ad,omitempty"`
	Fallback *FallbackAd  `json:"fallback,omitempty"`
}

// StoryPlacement holds the two story-open positions.
type StoryPlacement struct {
	Top    FeedItem `json:"top"`
	Bottom FeedItem `json:"bottom"`
}

// PromoLevel is the cascade level a house promotion was configured at.
type PromoLevel string

const (
	PromoNeighborhood PromoLevel = "neighborhood"
	PromoCity         PromoLevel = "city"
	PromoGlobal       PromoLevel = "global"
)

// HousePromotion is a configured self-promotional unit.
type HousePromotion struct {
	ID             string     `json:"id" yaml:"id"`
	Level          PromoLevel `json:"level" yaml:"level"`
	NeighborhoodID string     `json:"neighborhood_id,omitempty" yaml:"neighborhood_id"`
	City           string     `json:"city,omitempty" yaml:"city"`
	Priority       int        `json:"priority" yaml:"priority"`
	Creative       Creative   `json:"creative" yaml:"creative"`
	ActiveFrom     *time.Time `json:"active_from,omitempty" yaml:"active_from"`
	ActiveUntil    *time.Time `json:"active_until,omitempty" yaml:"active_until"`
}

// ActiveOn reports whether the promotion may run on date.
func (p HousePromotion) ActiveOn(date time.Time) bool {
	d := DateOf(date)
	if p.ActiveFrom != nil && d.Before(DateOf(*p.ActiveFrom)) {
		return false
	}
	if p.ActiveUntil != nil && d.After(DateOf(*p.ActiveUntil)) {
		return false
	}
	return true
}

// FallbackAd is the filler shown when no paid ad is eligible.
type FallbackAd struct {
	PromotionID string     `json:"promotion_id"`
	Level       PromoLevel `json:"level"`
	Creative    Creative   `json:"creative"`
}
