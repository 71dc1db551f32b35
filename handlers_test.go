package pubpreview

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	facebookUA = "facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)"
	slackUA    = "Slackbot-LinkExpanding 1.0 (+https://api.slack.com/robots)"
	chromeUA   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

// syncBuffer guards log output written from handler goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// entries returns the decoded log records with the given message.
func (b *syncBuffer) entries(t *testing.T, msg string) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		if m["msg"] == msg {
			out = append(out, m)
		}
	}
	return out
}

type testApp struct {
	*App
	store    *fakeStore
	upstream *fakeUpstream
	logs     *syncBuffer
}

func newTestApp(t *testing.T, withStore bool, mutate ...func(*SiteConfig)) *testApp {
	t.Helper()
	cfg := SiteConfig{URL: "https://bread.test", TwitterHandle: "@bgb"}
	for _, fn := range mutate {
		fn(&cfg)
	}

	ta := &testApp{
		store:    &fakeStore{items: map[string]ContentItem{sourdough.Slug: sourdough}},
		upstream: &fakeUpstream{posts: map[string]UpstreamPost{"rye-bread": ryePost()}},
		logs:     &syncBuffer{},
	}
	opts := []Option{
		WithLogger(slog.New(slog.NewJSONHandler(ta.logs, nil))),
		WithUpstream(ta.upstream),
	}
	if withStore {
		opts = append(opts, WithStore(ta.store))
	}
	app, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	ta.App = app
	return ta
}

func (ta *testApp) do(method, target, ua string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	rec := httptest.NewRecorder()
	ta.Echo.ServeHTTP(rec, req)
	return rec
}

func (ta *testApp) get(target, ua string) *httptest.ResponseRecorder {
	return ta.do(http.MethodGet, target, ua)
}

func assertBotHeaders(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	h := rec.Header()
	assert.Equal(t, "text/html; charset=utf-8", h.Get("Content-Type"))
	assert.Equal(t, "public, max-age=0, s-maxage=86400, stale-while-revalidate=604800", h.Get("Cache-Control"))
	assert.Contains(t, h.Values("Vary"), "User-Agent")
	assert.Equal(t, "noindex", h.Get("X-Robots-Tag"))
}

func assertHumanHeaders(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "public, max-age=0, s-maxage=300", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Values("Vary"), "User-Agent")
}

func TestBotGetsStorePreview(t *testing.T) {
	ta := newTestApp(t, true)

	rec := ta.get("/og/blog/sourdough-basics", facebookUA)

	require.Equal(t, http.StatusOK, rec.Code)
	assertBotHeaders(t, rec)
	body := rec.Body.String()
	assert.Contains(t, body, `<meta property="og:title" content="Sourdough Basics | Baking Great Bread">`)
	assert.Contains(t, body, `<link rel="canonical" href="https://bread.test/blog/sourdough-basics">`)
	assert.Contains(t, body, `<meta property="og:image" content="https://bread.test/img/social.jpg?v=1709371800000">`)
	assert.Contains(t, body, `window.location.replace("https://bread.test/blog/sourdough-basics")`)
	assert.Zero(t, ta.upstream.Calls())
}

func TestHumanIsRedirected(t *testing.T) {
	ta := newTestApp(t, true)

	rec := ta.get("/share/sourdough-basics", chromeUA)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://bread.test/blog/sourdough-basics", rec.Header().Get("Location"))
	assertHumanHeaders(t, rec)
	assert.Zero(t, ta.store.Calls(), "humans never trigger a lookup")
}

func TestMissingUserAgentIsHuman(t *testing.T) {
	ta := newTestApp(t, true)

	rec := ta.get("/og/blog/sourdough-basics", "")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://bread.test/blog/sourdough-basics", rec.Header().Get("Location"))
}

func TestBotUnknownSlugGetsNotFoundPreview(t *testing.T) {
	ta := newTestApp(t, true)

	rec := ta.get("/og/blog/no-such-loaf", slackUA)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assertBotHeaders(t, rec)
	assert.Contains(t, rec.Body.String(), "<title>Post not found | Baking Great Bread</title>")
	assert.Equal(t, 1, ta.store.Calls())
	assert.Equal(t, 1, ta.upstream.Calls())
}

// The validation fixture never touches a content source.
func TestBotFixtureSlug(t *testing.T) {
	ta := newTestApp(t, true)

	rec := ta.get("/share/og-preview-test", facebookUA)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Social Preview Test | Baking Great Bread")
	assert.Zero(t, ta.store.Calls())
	assert.Zero(t, ta.upstream.Calls())
}

func TestBotUpstreamFallback(t *testing.T) {
	ta := newTestApp(t, true)

	rec := ta.get("/post/rye-bread", facebookUA)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rye – The Dark Loaf | Baking Great Bread")
	assert.Equal(t, 1, ta.store.Calls())
	assert.Equal(t, 1, ta.upstream.Calls())
}

func TestSlugExtraction(t *testing.T) {
	ta := newTestApp(t, true)
	for _, target := range []string{
		"/share?slug=sourdough-basics",
		"/share/?slug=sourdough-basics",
		"/share/sourdough-basics/",
		"/og/blog/sourdough-basics/",
		"/og/blog/sourdough%2Dbasics",
	} {
		t.Run(target, func(t *testing.T) {
			rec := ta.get(target, facebookUA)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "Sourdough Basics | Baking Great Bread")
		})
	}
}

func TestEmptySlug(t *testing.T) {
	ta := newTestApp(t, true)

	tests := []struct {
		target   string
		location string
	}{
		{"/share", "https://bread.test/"},
		{"/share/", "https://bread.test/"},
		{"/og/blog", "https://bread.test/blog"},
		{"/post/", "https://bread.test/blog"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := ta.get(tt.target, chromeUA)
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, tt.location, rec.Header().Get("Location"))
			assertHumanHeaders(t, rec)

			rec = ta.get(tt.target, facebookUA)
			assert.Equal(t, http.StatusOK, rec.Code)
			assertBotHeaders(t, rec)
			assert.Contains(t, rec.Body.String(), `<meta property="og:type" content="website">`)
			assert.Contains(t, rec.Body.String(), "<title>Baking Great Bread</title>")
		})
	}
	assert.Zero(t, ta.store.Calls())
}

func TestStoreUnconfigured(t *testing.T) {
	ta := newTestApp(t, false)

	rec := ta.get("/share/sourdough-basics", facebookUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assertBotHeaders(t, rec)
	assert.Contains(t, rec.Body.String(), "<title>Baking Great Bread</title>")
	assert.Equal(t, 1, ta.upstream.Calls())

	entries := ta.logs.entries(t, "preview")
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "none", entries[0]["tier"])
	assert.Equal(t, "content store not configured", entries[0]["warning"])

	rec = ta.get("/share/sourdough-basics", chromeUA)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://bread.test/blog/sourdough-basics", rec.Header().Get("Location"))
}

func TestStoreUnconfiguredStillResolves(t *testing.T) {
	ta := newTestApp(t, false)

	rec := ta.get("/share/og-preview-test", facebookUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Social Preview Test | Baking Great Bread")

	rec = ta.get("/post/rye-bread", facebookUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rye – The Dark Loaf | Baking Great Bread")
	assert.Equal(t, 1, ta.upstream.Calls())

	ta.upstream.err = errors.New("connection refused")
	rec = ta.get("/post/rye-bread", facebookUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>Baking Great Bread</title>")

	entries := ta.logs.entries(t, "preview")
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "content store not configured", e["warning"])
	}
	assert.Equal(t, "fixture", entries[0]["tier"])
	assert.Equal(t, "upstream", entries[1]["tier"])
}

func TestSlugDecodedOnce(t *testing.T) {
	ta := newTestApp(t, true)
	item := sourdough
	item.Slug = "%41b"
	ta.store.items[item.Slug] = item

	rec := ta.get("/og/blog/%2541b", chromeUA)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://bread.test/blog/%2541b", rec.Header().Get("Location"))

	rec = ta.get("/og/blog/%2541b", facebookUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<link rel="canonical" href="https://bread.test/blog/%2541b">`)
}

func TestInvalidRecordIsNotFound(t *testing.T) {
	ta := newTestApp(t, true)
	item := sourdough
	item.Slug = "untitled-loaf"
	item.Title = "  "
	ta.store.items[item.Slug] = item

	rec := ta.get("/og/blog/untitled-loaf", facebookUA)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Post not found")
}

func TestDegradedMissReturns503(t *testing.T) {
	ta := newTestApp(t, true)
	ta.store.err = errors.New("connection reset")

	rec := ta.get("/share/no-such-loaf", facebookUA)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "public, max-age=0, s-maxage=60", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "noindex", rec.Header().Get("X-Robots-Tag"))
	assert.Contains(t, rec.Body.String(), "<title>Baking Great Bread</title>")

	entries := ta.logs.entries(t, "preview")
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0]["degraded"])
	assert.Equal(t, "connection reset", entries[0]["error"])
}

func TestDegradedHitStillServes(t *testing.T) {
	ta := newTestApp(t, true)
	ta.store.err = errors.New("connection reset")

	rec := ta.get("/share/rye-bread", facebookUA)

	assert.Equal(t, http.StatusOK, rec.Code)
	assertBotHeaders(t, rec)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestOneLogLinePerRequest(t *testing.T) {
	ta := newTestApp(t, true)

	ta.get("/share/sourdough-basics", facebookUA)
	ta.get("/share/sourdough-basics", chromeUA)

	entries := ta.logs.entries(t, "preview")
	require.Len(t, entries, 2)
	assert.Empty(t, ta.logs.entries(t, "request"), "access log must not duplicate preview lines")

	bot := entries[0]
	assert.Equal(t, "share", bot["route"])
	assert.Equal(t, "sourdough-basics", bot["slug"])
	assert.Equal(t, "bot", bot["agent"])
	assert.Equal(t, "Facebook", bot["bot"])
	assert.Equal(t, "store", bot["tier"])
	assert.Equal(t, float64(200), bot["status"])
	assert.Equal(t, false, bot["degraded"])
	assert.Contains(t, bot, "duration_ms")
	assert.NotEmpty(t, bot["request_id"])

	human := entries[1]
	assert.Equal(t, "human", human["agent"])
	assert.Equal(t, "", human["bot"])
	assert.Equal(t, "none", human["tier"])
	assert.Equal(t, float64(302), human["status"])
}

func TestHeadRequest(t *testing.T) {
	ta := newTestApp(t, true)

	rec := ta.do(http.MethodHead, "/share/sourdough-basics", facebookUA)

	assert.Equal(t, http.StatusOK, rec.Code)
	assertBotHeaders(t, rec)
}

func TestPanicRendersGenericPreview(t *testing.T) {
	ta := newTestApp(t, true)
	ta.Echo.GET("/boom", func(c echo.Context) error {
		panic("kaboom")
	})

	rec := ta.get("/boom", facebookUA)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=0, s-maxage=60", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "<title>Baking Great Bread</title>")
}

func TestUnknownPath(t *testing.T) {
	ta := newTestApp(t, true)

	rec := ta.get("/nope", facebookUA)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Post not found")

	rec = ta.get("/nope", chromeUA)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<html")
}

func TestInlineBlogRoute(t *testing.T) {
	shell := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!doctype html><div id="root"></div>`))
	}))
	defer shell.Close()

	ta := newTestApp(t, true, func(c *SiteConfig) { c.AppShellURL = shell.URL })

	rec := ta.get("/blog/sourdough-basics", chromeUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<div id="root">`)
	assertHumanHeaders(t, rec)

	rec = ta.get("/blog/sourdough-basics", facebookUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sourdough Basics | Baking Great Bread")
	assertBotHeaders(t, rec)
}

func TestInlineBlogRouteShellDown(t *testing.T) {
	shell := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer shell.Close()

	ta := newTestApp(t, true, func(c *SiteConfig) { c.AppShellURL = shell.URL })

	rec := ta.get("/blog/sourdough-basics", chromeUA)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://bread.test/", rec.Header().Get("Location"))
}

func TestInlineBlogRouteDisabled(t *testing.T) {
	ta := newTestApp(t, true)

	rec := ta.get("/blog/sourdough-basics", chromeUA)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	ta := newTestApp(t, true)

	rec := ta.get("/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var h healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "ok", h.Store)
	assert.Equal(t, "ok", h.Upstream)
	assert.Equal(t, []Tier{TierFixture, TierStore, TierUpstream}, h.Tiers)
}

func TestMetricsEndpoint(t *testing.T) {
	ta := newTestApp(t, true)
	ta.get("/share/sourdough-basics", facebookUA)

	rec := ta.get("/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `preview_requests_total{agent="bot",route="share",status="200",tier="store"} 1`)
	assert.Contains(t, body, `preview_tier_attempts_total{outcome="hit",tier="store"} 1`)
	assert.Contains(t, body, "pubpreview_requests_total")
}
