package pubpreview

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// ctxKeyLogged marks requests whose handler already wrote the structured
// diagnostic line, so the access logger stays quiet for them.
const ctxKeyLogged = "pubpreview.logged"

func (a *App) setupMiddleware() {
	e := a.Echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)

	e.HTTPErrorHandler = a.httpErrorHandler

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if logged, _ := c.Get(ctxKeyLogged).(bool); logged {
				return nil
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
				slog.String("request_id", v.RequestID),
				slog.String("user_agent", v.UserAgent),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
				level = slog.LevelError
			}
			a.logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}))

	e.Use(middleware.Recover())

	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "pubpreview",
		Registerer: a.registry,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' https: data:; font-src 'self' https:; connect-src 'self' https:",
		HSTSMaxAge:            31536000,
		HSTSExcludeSubdomains: false,
	}))
}

const (
	// Bot previews: browsers always revalidate, the CDN keeps a day and may
	// serve stale for a week while refreshing.
	botCacheControl = "public, max-age=0, s-maxage=86400, stale-while-revalidate=604800"
	// Failed bot previews are only cached briefly.
	degradedCacheControl = "public, max-age=0, s-maxage=60"
	// Human redirects and app shells.
	humanCacheControl = "public, max-age=0, s-maxage=300"

	retryAfterSeconds = "60"
)

// previewContentType is the Content-Type of every preview document.
const previewContentType = "text/html; charset=utf-8"

// setBotHeaders applies the crawler header policy for status code.
func setBotHeaders(c echo.Context, code int) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, previewContentType)
	addVary(h, "User-Agent")
	h.Set("X-Robots-Tag", "noindex")
	h.Del("Retry-After")
	switch {
	case code == http.StatusServiceUnavailable:
		h.Set("Cache-Control", degradedCacheControl)
		h.Set("Retry-After", retryAfterSeconds)
	case code >= http.StatusInternalServerError:
		h.Set("Cache-Control", degradedCacheControl)
	default:
		h.Set("Cache-Control", botCacheControl)
	}
}

// setHumanHeaders applies the short-lived human header policy.
func setHumanHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set("Cache-Control", humanCacheControl)
	addVary(h, "User-Agent")
}

func addVary(h http.Header, value string) {
	for _, v := range h.Values(echo.HeaderVary) {
		if strings.EqualFold(v, value) {
			return
		}
	}
	h.Add(echo.HeaderVary, value)
}
