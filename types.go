package pubpreview

import (
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a content source has no usable item for a slug.
var ErrNotFound = sql.ErrNoRows

// ErrStoreUnconfigured is reported when the primary store has no driver/DSN.
var ErrStoreUnconfigured = errors.New("pubpreview: content store is not configured")

// ContentItem is a read-only row from the primary content store.
type ContentItem struct {
	Slug           string
	Title          string
	Summary        string
	SocialImageURL string
	InlineImageURL string
	HeroImageURL   string
	PublishedAt    string // ISO 8601, empty when unpublished
	UpdatedAt      string // ISO 8601
	IsDraft        bool
}

// Public reports whether the item may be shown in a public preview.
func (c ContentItem) Public() bool {
	return !c.IsDraft && c.PublishedAt != ""
}

// Rendered is the {"rendered": "..."} wrapper the legacy API uses for text.
type Rendered struct {
	Rendered string `json:"rendered"`
}

// UpstreamMedia is one embedded wp:featuredmedia entry.
type UpstreamMedia struct {
	SourceURL    string `json:"source_url"`
	AltText      string `json:"alt_text"`
	MediaDetails struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"media_details"`
}

// UpstreamPost is a post record from the legacy content API.
type UpstreamPost struct {
	ID       int64    `json:"id"`
	Slug     string   `json:"slug"`
	Date     string   `json:"date"`
	DateGMT  string   `json:"date_gmt"`
	Modified string   `json:"modified"`
	Title    Rendered `json:"title"`
	Excerpt  Rendered `json:"excerpt"`
	Embedded struct {
		FeaturedMedia []UpstreamMedia `json:"wp:featuredmedia"`
	} `json:"_embedded"`
}

// FeaturedImage returns the first embedded featured media entry, if any.
func (p UpstreamPost) FeaturedImage() (UpstreamMedia, bool) {
	for _, m := range p.Embedded.FeaturedMedia {
		if m.SourceURL != "" {
			return m, true
		}
	}
	return UpstreamMedia{}, false
}

// Tier names the content source that produced a preview.
type Tier string

const (
	TierFixture  Tier = "fixture"
	TierStore    Tier = "store"
	TierUpstream Tier = "upstream"
	TierNone     Tier = "none"
)

// Record is what a resolution strategy hands back: exactly one of Item, Post
// or Fixture is set, according to Kind.
type Record struct {
	Kind    Tier
	Item    *ContentItem
	Post    *UpstreamPost
	Fixture bool
}
