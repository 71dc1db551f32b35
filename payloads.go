package pubpreview

import (
	"strings"

	"github.com/eringen/pubpreview/views"
)

const (
	fixtureTitle       = "Social Preview Test"
	fixtureDescription = "A fixed preview used to check how link previews render on social platforms."
	fixturePublishedAt = "2024-01-01T00:00:00Z"
	notFoundTitle      = "Post not found"
)

// basePreview fills the site-wide fields every payload shares.
func (c SiteConfig) basePreview() views.PreviewPayload {
	return views.PreviewPayload{
		Type:          views.TypeWebsite,
		SiteName:      c.Name,
		Locale:        c.Locale,
		TwitterHandle: c.TwitterHandle,
		Image: views.PreviewImage{
			URL:    c.AbsoluteURL(c.DefaultImage),
			Width:  c.ImageWidth,
			Height: c.ImageHeight,
			Alt:    c.Name,
		},
	}
}

// titled appends the site name: "<title> | <site name>".
func (c SiteConfig) titled(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return c.Name
	}
	return title + " | " + c.Name
}

func (c SiteConfig) articleFallbackDescription() string {
	return "Read this article on " + c.Name + "."
}

// SitePreview is the generic site-level preview used for empty slugs and
// as the fallback body when resolution cannot produce a payload.
func (c SiteConfig) SitePreview() views.PreviewPayload {
	p := c.basePreview()
	p.Title = c.Name
	p.Description = c.Description
	p.Canonical = c.AbsoluteURL("/")
	return p
}

// NotFoundPreview is the generic preview for a slug no tier knows.
func (c SiteConfig) NotFoundPreview() views.PreviewPayload {
	p := c.basePreview()
	p.Title = c.titled(notFoundTitle)
	p.Description = c.Description
	p.Canonical = c.AbsoluteURL("/blog")
	return p
}

// FixturePreview is the fixed article payload for the reserved validation
// slug. It performs no I/O and never changes between calls.
func (c SiteConfig) FixturePreview() views.PreviewPayload {
	p := c.basePreview()
	p.Type = views.TypeArticle
	p.Title = c.titled(fixtureTitle)
	p.Description = fixtureDescription
	p.Canonical = c.PostURL(c.FixtureSlug)
	p.Image.Alt = fixtureTitle
	p.PublishedAt = fixturePublishedAt
	p.ModifiedAt = fixturePublishedAt
	return p
}
