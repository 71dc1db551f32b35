package pubpreview

import (
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are the ISO 8601 shapes seen in the store and the legacy
// API. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ResolveImage picks the first non-blank candidate (or fallbackDefault),
// makes it absolute against the site origin and, when updatedAt parses,
// appends v=<epoch milliseconds>. Output depends only on its arguments and
// the configured origin.
func (c SiteConfig) ResolveImage(candidates []string, fallbackDefault, updatedAt string) string {
	selected := strings.TrimSpace(fallbackDefault)
	for _, cand := range candidates {
		if s := strings.TrimSpace(cand); s != "" {
			selected = s
			break
		}
	}
	return CacheBust(c.AbsoluteURL(selected), updatedAt)
}

// AbsoluteURL resolves p against the site origin. http(s) URLs pass through
// unchanged and protocol-relative URLs get https.
func (c SiteConfig) AbsoluteURL(p string) string {
	p = strings.TrimSpace(p)
	lower := strings.ToLower(p)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return p
	case strings.HasPrefix(p, "//"):
		return "https:" + p
	}
	origin := strings.TrimRight(c.URL, "/")
	if origin == "" {
		origin = DefaultOrigin
	}
	return origin + "/" + strings.TrimLeft(p, "/")
}

// CacheBust appends a v=<epoch ms> query parameter derived from updatedAt.
// u is returned unchanged when updatedAt is empty or unparseable.
func CacheBust(u, updatedAt string) string {
	ms, ok := epochMillis(updatedAt)
	if !ok {
		return u
	}
	fragment := ""
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u, fragment = u[:i], u[i:]
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "v=" + strconv.FormatInt(ms, 10) + fragment
}

func epochMillis(ts string) (int64, bool) {
	t, ok := parseTimestamp(ts)
	if !ok {
		return 0, false
	}
	return t.UnixMilli(), true
}

func parseTimestamp(ts string) (time.Time, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
