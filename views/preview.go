package views

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"
)

// PreviewDocument returns a templ.Component that writes the preview document
// for p. See RenderPreviewHTML.
func PreviewDocument(p PreviewPayload) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, RenderPreviewHTML(p))
		return err
	})
}

// RenderPreviewHTML renders a complete, self-contained HTML document with
// Open Graph and Twitter Card tags for p. Every value taken from p is escaped
// here; callers pass raw text.
func RenderPreviewHTML(p PreviewPayload) string {
	e := templ.EscapeString[string]
	title := e(p.Title)
	desc := e(p.Description)
	canonical := e(p.Canonical)
	image := e(p.Image.URL)
	alt := e(p.Image.Alt)
	if alt == "" {
		alt = title
	}
	ogType := p.Type
	if ogType != TypeArticle {
		ogType = TypeWebsite
	}

	var b strings.Builder
	b.Grow(4096)
	b.WriteString("<!DOCTYPE html>\n<html lang=\"")
	b.WriteString(e(htmlLang(p.Locale)))
	b.WriteString("\">\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<title>" + title + "</title>\n")
	meta(&b, "name", "description", desc)
	meta(&b, "name", "robots", "noindex, follow")
	b.WriteString("<link rel=\"canonical\" href=\"" + canonical + "\">\n")

	meta(&b, "property", "og:type", ogType)
	meta(&b, "property", "og:url", canonical)
	meta(&b, "property", "og:title", title)
	meta(&b, "property", "og:description", desc)
	meta(&b, "property", "og:site_name", e(p.SiteName))
	meta(&b, "property", "og:image", image)
	if strings.HasPrefix(strings.ToLower(p.Image.URL), "https://") {
		meta(&b, "property", "og:image:secure_url", image)
	}
	if p.Image.Width > 0 && p.Image.Height > 0 {
		meta(&b, "property", "og:image:width", strconv.Itoa(p.Image.Width))
		meta(&b, "property", "og:image:height", strconv.Itoa(p.Image.Height))
	}
	meta(&b, "property", "og:image:alt", alt)
	meta(&b, "property", "og:locale", e(p.Locale))
	if ogType == TypeArticle {
		if p.PublishedAt != "" {
			meta(&b, "property", "article:published_time", e(p.PublishedAt))
		}
		if p.ModifiedAt != "" {
			meta(&b, "property", "article:modified_time", e(p.ModifiedAt))
			meta(&b, "property", "og:updated_time", e(p.ModifiedAt))
		}
	}

	meta(&b, "name", "twitter:card", "summary_large_image")
	meta(&b, "name", "twitter:title", title)
	meta(&b, "name", "twitter:description", desc)
	meta(&b, "name", "twitter:image", image)
	meta(&b, "name", "twitter:image:alt", alt)
	if p.TwitterHandle != "" {
		meta(&b, "name", "twitter:site", e(p.TwitterHandle))
		meta(&b, "name", "twitter:creator", e(p.TwitterHandle))
	}

	b.WriteString("<script type=\"application/ld+json\">" + jsonLD(p) + "</script>\n")
	b.WriteString("<style>body{font-family:system-ui,sans-serif;max-width:40rem;margin:3rem auto;padding:0 1rem;color:#222}img{max-width:100%;height:auto;border-radius:6px}a{color:#8a4b08}</style>\n")
	b.WriteString("</head>\n<body>\n<main>\n")
	b.WriteString("<h1>" + title + "</h1>\n")
	if desc != "" {
		b.WriteString("<p>" + desc + "</p>\n")
	}
	b.WriteString("<img src=\"" + image + "\" alt=\"" + alt + "\"")
	if p.Image.Width > 0 && p.Image.Height > 0 {
		b.WriteString(" width=\"" + strconv.Itoa(p.Image.Width) + "\" height=\"" + strconv.Itoa(p.Image.Height) + "\"")
	}
	b.WriteString(">\n")
	b.WriteString("<p><a href=\"" + canonical + "\">Continue to article &rarr;</a></p>\n")
	b.WriteString("</main>\n")
	// Crawlers read the tags above without running this; browsers that got
	// here without a server redirect are sent on.
	b.WriteString("<script>window.location.replace(" + jsString(p.Canonical) + ");</script>\n")
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

// meta writes a meta tag; value must already be escaped.
func meta(b *strings.Builder, attr, key, value string) {
	b.WriteString("<meta " + attr + "=\"" + key + "\" content=\"" + value + "\">\n")
}

// htmlLang turns an og:locale such as "en_US" into a lang attribute ("en-US").
func htmlLang(locale string) string {
	if locale == "" {
		return "en"
	}
	return strings.ReplaceAll(locale, "_", "-")
}
