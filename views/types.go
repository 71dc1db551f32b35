package views

import (
	"errors"
	"strings"
)

// Content types emitted as og:type.
const (
	TypeWebsite = "website"
	TypeArticle = "article"
)

// PreviewImage is the og:image / twitter:image of a preview.
type PreviewImage struct {
	URL    string `json:"url"` // absolute, possibly carrying a v= cache-busting token
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Alt    string `json:"alt,omitempty"`
}

// PreviewPayload carries everything the preview document needs. It is built
// fresh per request and never mutated after construction.
type PreviewPayload struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Canonical   string       `json:"canonical"` // absolute human-facing URL, also og:url
	Image       PreviewImage `json:"image"`
	Type        string       `json:"type"`                   // TypeWebsite or TypeArticle
	PublishedAt string       `json:"published_at,omitempty"` // ISO 8601, optional
	ModifiedAt  string       `json:"modified_at,omitempty"`  // ISO 8601, optional

	SiteName      string `json:"site_name"`
	Locale        string `json:"locale"`                   // og:locale, e.g. "en_US"
	TwitterHandle string `json:"twitter_handle,omitempty"` // "@handle" for twitter:site and twitter:creator
}

// Validate reports whether p can be shown to a crawler: non-empty title and
// absolute canonical and image URLs.
func (p PreviewPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("views: preview title is empty")
	}
	if !IsAbsoluteURL(p.Canonical) {
		return errors.New("views: preview canonical is not absolute: " + p.Canonical)
	}
	if !IsAbsoluteURL(p.Image.URL) {
		return errors.New("views: preview image is not absolute: " + p.Image.URL)
	}
	return nil
}

// IsAbsoluteURL reports whether u starts with http:// or https://.
func IsAbsoluteURL(u string) bool {
	lower := strings.ToLower(u)
	return (strings.HasPrefix(lower, "http://") && len(u) > len("http://")) ||
		(strings.HasPrefix(lower, "https://") && len(u) > len("https://"))
}
