package pubpreview

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pubpreview/botdetect"
	"github.com/eringen/pubpreview/views"
)

const maxShellBody = 5 << 20 // 5MB

// previewRoute describes one crawler-facing entry point.
type previewRoute struct {
	Name  string
	Index string // human redirect target when no slug is given
	Shell bool   // humans get the proxied app shell instead of a redirect
}

var (
	shareRoute      = previewRoute{Name: "share", Index: "/"}
	blogRoute       = previewRoute{Name: "blog", Index: "/blog"}
	legacyPostRoute = previewRoute{Name: "legacy-post", Index: "/blog"}
	blogInlineRoute = previewRoute{Name: "blog-inline", Index: "/blog", Shell: true}
)

// requestLog collects the fields of the single diagnostic line written for
// every preview request.
type requestLog struct {
	route    string
	slug     string
	agent    string
	bot      string
	tier     Tier
	status   int
	degraded bool
	warning  string
	err      error
}

func (a *App) handlePreview(rt previewRoute) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		start := time.Now()
		ua := c.Request().UserAgent()
		rl := &requestLog{
			route: rt.Name,
			slug:  extractSlug(c),
			agent: botdetect.AgentType(ua),
			bot:   botdetect.Name(ua),
			tier:  TierNone,
		}
		defer func() {
			if p := recover(); p != nil {
				rl.err = fmt.Errorf("panic: %v", p)
				err = a.writeServerError(c, rl)
			}
			a.logRequest(c, rl, time.Since(start))
		}()

		if rl.bot == "" {
			return a.serveHuman(c, rt, rl)
		}
		return a.serveBot(c, rl)
	}
}

func (a *App) serveHuman(c echo.Context, rt previewRoute, rl *requestLog) error {
	setHumanHeaders(c)
	if rt.Shell && a.Config.AppShellURL != "" {
		return a.serveAppShell(c, rl)
	}
	target := rt.Index
	if rl.slug != "" {
		target = "/blog/" + url.PathEscape(rl.slug)
	}
	rl.status = http.StatusFound
	return c.Redirect(http.StatusFound, a.Config.AbsoluteURL(target))
}

func (a *App) serveBot(c echo.Context, rl *requestLog) error {
	if rl.slug == "" {
		return a.writePreview(c, rl, http.StatusOK, a.Config.SitePreview())
	}

	res := a.Resolver.Resolve(c.Request().Context(), rl.slug)
	rl.tier, rl.degraded, rl.err = res.Tier, res.Degraded, res.Err
	if a.store == nil {
		// Without the primary store a miss cannot be trusted; fall back to
		// the site preview with 200.
		rl.warning = "content store not configured"
		if res.Payload != nil {
			return a.writePreview(c, rl, http.StatusOK, *res.Payload)
		}
		return a.writePreview(c, rl, http.StatusOK, a.Config.SitePreview())
	}
	switch {
	case res.Payload != nil:
		return a.writePreview(c, rl, http.StatusOK, *res.Payload)
	case res.Degraded:
		return a.writePreview(c, rl, http.StatusServiceUnavailable, a.Config.SitePreview())
	default:
		return a.writePreview(c, rl, http.StatusNotFound, a.Config.NotFoundPreview())
	}
}

// writePreview sends p with the crawler header policy. A render failure
// turns into the generic preview with 500.
func (a *App) writePreview(c echo.Context, rl *requestLog, code int, p views.PreviewPayload) error {
	setBotHeaders(c, code)
	if err := RenderStatus(c, code, views.PreviewDocument(p)); err != nil {
		rl.err = fmt.Errorf("render preview: %w", err)
		return a.writeServerError(c, rl)
	}
	rl.status = code
	return nil
}

func (a *App) writeServerError(c echo.Context, rl *requestLog) error {
	rl.status = http.StatusInternalServerError
	if c.Response().Committed {
		return nil
	}
	setBotHeaders(c, http.StatusInternalServerError)
	return c.HTML(http.StatusInternalServerError, views.RenderPreviewHTML(a.Config.SitePreview()))
}

// serveAppShell proxies the interactive application's root document so
// humans stay on the requested URL. Any failure falls back to a redirect to
// the site root.
func (a *App) serveAppShell(c echo.Context, rl *requestLog) error {
	body, err := a.fetchAppShell(c)
	if err != nil {
		rl.err = err
		rl.status = http.StatusFound
		return c.Redirect(http.StatusFound, a.Config.AbsoluteURL("/"))
	}
	rl.status = http.StatusOK
	return c.HTMLBlob(http.StatusOK, body)
}

func (a *App) fetchAppShell(c echo.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodGet, a.Config.AppShellURL, nil)
	if err != nil {
		return nil, fmt.Errorf("app shell: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	resp, err := a.shellClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("app shell: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("app shell: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxShellBody))
}

func (a *App) logRequest(c echo.Context, rl *requestLog, d time.Duration) {
	c.Set(ctxKeyLogged, true)
	attrs := []slog.Attr{
		slog.String("route", rl.route),
		slog.String("slug", rl.slug),
		slog.String("agent", rl.agent),
		slog.String("bot", rl.bot),
		slog.String("tier", string(rl.tier)),
		slog.Int("status", rl.status),
		slog.Bool("degraded", rl.degraded),
		slog.Float64("duration_ms", float64(d.Microseconds())/1000),
		slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
	}
	level := slog.LevelInfo
	if rl.warning != "" {
		attrs = append(attrs, slog.String("warning", rl.warning))
		level = slog.LevelWarn
	}
	if rl.err != nil {
		attrs = append(attrs, slog.String("error", rl.err.Error()))
		level = slog.LevelWarn
		if rl.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
	}
	a.logger.LogAttrs(c.Request().Context(), level, "preview", attrs...)
	a.Metrics.RecordRequest(rl.route, rl.agent, rl.tier, strconv.Itoa(rl.status))
}

// extractSlug reads the slug from the wildcard path segment or, failing
// that, the slug query parameter, decoded exactly once and stripped of
// surrounding slashes. Echo matches on RawPath when the request has one, so
// only then is the path segment still escaped.
func extractSlug(c echo.Context) string {
	slug := c.Param("*")
	if slug != "" && c.Request().URL.RawPath != "" {
		if s, err := url.PathUnescape(slug); err == nil {
			slug = s
		}
	}
	if slug == "" {
		slug = c.QueryParam("slug")
	}
	return strings.Trim(strings.TrimSpace(slug), "/")
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
	}
	if code >= 500 {
		a.logger.Error("server error",
			slog.String("uri", c.Request().RequestURI),
			slog.Any("error", err))
	}

	req := c.Request()
	bot := botdetect.IsBot(req.UserAgent())
	if bot && (req.Method == http.MethodGet || req.Method == http.MethodHead) &&
		(code == http.StatusNotFound || code >= 500) {
		p := a.Config.SitePreview()
		if code == http.StatusNotFound {
			p = a.Config.NotFoundPreview()
		}
		setBotHeaders(c, code)
		_ = c.HTML(code, views.RenderPreviewHTML(p))
		return
	}
	a.Echo.DefaultHTTPErrorHandler(err, c)
}
