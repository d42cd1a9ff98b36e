package products

import "time"

// Product is one enriched marketplace record. It is keyed by the normalized
// query text and shared across sessions; it has no expiry and persists until
// explicitly refreshed.
type Product struct {
	Query          string         `json:"query"` // normalized cache key
	Title          string         `json:"title"`
	Price          string         `json:"price,omitempty"`
	ExtractedPrice float64        `json:"extracted_price,omitempty"`
	Thumbnail      string         `json:"thumbnail,omitempty"`
	Rating         float64        `json:"rating,omitempty"`
	Reviews        int            `json:"reviews,omitempty"`
	Store          string         `json:"store,omitempty"`
	Link           string         `json:"link,omitempty"`
	Description    string         `json:"description,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	FetchedAt      time.Time      `json:"fetched_at"`
}

// RecommendationContext describes why a product was looked up.
type RecommendationContext struct {
	Category         string  `json:"category,omitempty"`
	RecommendedPrice float64 `json:"recommended_price,omitempty"`
	AIRecommended    bool    `json:"ai_recommended"`
	SearchType       string  `json:"search_type,omitempty"`
	UserContext      string  `json:"user_context,omitempty"`
}

// Provenance records that a session asked to resolve a product. One row per
// (session, normalized query); many sessions may reference the same cached
// product. Rows expire after a year. Query doubles as the reference into the
// shared product cache when Resolved is true.
type Provenance struct {
	SessionID  string                `json:"session_id"`
	Query      string                `json:"query"` // normalized
	RawQuery   string                `json:"raw_query,omitempty"`
	Context    RecommendationContext `json:"context"`
	Resolved   bool                  `json:"resolved"`
	RecordedAt time.Time             `json:"recorded_at"`
}

// Request is one item of a batch resolution.
type Request struct {
	Query   string
	Context RecommendationContext
}

// Outcome pairs a batch item with its result. Product and Err are mutually
// exclusive; Err carries per-item failures without aborting siblings.
type Outcome struct {
	Query   string
	Product *Product
	Err     error
}

// Stats summarizes the cache and provenance collections.
type Stats struct {
	CachedProducts        int `json:"cached_products"`
	RecentCached          int `json:"recent_cached"`
	Recommendations       int `json:"recommendations"`
	RecentRecommendations int `json:"recent_recommendations"`
}
