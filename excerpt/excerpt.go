// Package excerpt turns rendered HTML fragments from the legacy content API
// into plain-text descriptions suitable for meta tags.
package excerpt

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Ellipsis is appended to truncated text and counts toward the limit.
const Ellipsis = "…"

// StripHTML returns the text content of an HTML fragment with whitespace
// collapsed. Script and style bodies are dropped. Entities are decoded by
// the HTML parser.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapseSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseSpace(fragment)
	}
	doc.Find("script, style, noscript, template").Remove()
	return collapseSpace(doc.Text())
}

// DecodeEntities decodes HTML entities, including doubly-encoded ones such
// as "&amp;#8217;" that some CMS exports produce.
func DecodeEntities(s string) string {
	for i := 0; i < 2 && strings.Contains(s, "&"); i++ {
		decoded := html.UnescapeString(s)
		if decoded == s {
			break
		}
		s = decoded
	}
	return s
}

// Truncate shortens s to at most limit runes. When text is cut it breaks on
// the last space in the second half of the window and appends Ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := runes[:limit-utf8.RuneCountInString(Ellipsis)]
	if i := lastSpace(cut); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(string(cut), " \t\n,;:.-") + Ellipsis
}

// Clean strips markup, decodes entities and truncates to limit runes.
func Clean(fragment string, limit int) string {
	return Truncate(collapseSpace(DecodeEntities(StripHTML(fragment))), limit)
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
