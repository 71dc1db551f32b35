package pubpreview

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// healthStatus is the /healthz response body.
type healthStatus struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Upstream string `json:"upstream"`
	Tiers    []Tier `json:"tiers"`
}

// handleHealth reports the state of each content source. The service keeps
// answering with generic previews when a source is down, so the response is
// always 200 and "status" reads "degraded" instead.
func (a *App) handleHealth(c echo.Context) error {
	h := healthStatus{
		Status:   "ok",
		Store:    "unconfigured",
		Upstream: "unconfigured",
		Tiers:    a.Resolver.Tiers(),
	}

	if a.store != nil {
		h.Store = "ok"
		if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
			ctx, cancel := context.WithTimeout(c.Request().Context(), a.Config.StoreTimeout.Duration)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				h.Store = "error"
				h.Status = "degraded"
			}
		}
	}
	if a.upstream != nil {
		h.Upstream = "ok"
		if b, ok := a.upstream.(interface{ BreakerState() string }); ok {
			h.Upstream = b.BreakerState()
			if h.Upstream != "closed" {
				h.Status = "degraded"
			}
		}
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, h)
}
