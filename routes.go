package pubpreview

import (
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
)

var previewMethods = []string{http.MethodGet, http.MethodHead}

func (a *App) setupRoutes() {
	e := a.Echo

	// Operational
	e.GET("/healthz", a.handleHealth)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: a.registry,
	}))

	// Share links: /share/<slug> or /share?slug=<slug>
	a.previewRoutes(shareRoute, "/share")

	// Crawler entry for blog posts. Humans land on /blog/<slug>, which the
	// interactive app owns unless the inline route below is enabled.
	a.previewRoutes(blogRoute, "/og/blog")

	// Legacy WordPress permalinks
	a.previewRoutes(legacyPostRoute, "/post")

	if a.Config.AppShellURL != "" {
		a.previewRoutes(blogInlineRoute, "/blog")
	}
}

// previewRoutes registers rt on prefix and every path below it.
func (a *App) previewRoutes(rt previewRoute, prefix string) {
	h := a.handlePreview(rt)
	a.Echo.Match(previewMethods, prefix, h)
	a.Echo.Match(previewMethods, prefix+"/*", h)
}
