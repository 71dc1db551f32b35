// Package pubpreview serves crawler-safe link previews for a content site.
//
// Requests on the preview routes are classified by User-Agent. Social and
// search crawlers get a complete HTML document carrying Open Graph, Twitter
// Card and JSON-LD metadata, resolved through an ordered chain of content
// sources. Humans are redirected to the interactive application (or get its
// app shell proxied) with short-lived edge caching.
package pubpreview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 10 * time.Second

// App is the central preview application. It wires together the content
// sources, the resolver, middleware and routes.
type App struct {
	Config   SiteConfig
	Echo     *echo.Echo
	Resolver *Resolver
	Metrics  *Metrics

	store        PostFinder
	upstream     UpstreamFetcher
	closers      []io.Closer
	logger       *slog.Logger
	registry     *prometheus.Registry
	shellClient  *http.Client
	customRoutes []func(*App)
}

// New creates an App from cfg. Content sources not injected through options
// are built from the configuration: the store when a driver and DSN are set,
// the upstream client when UpstreamURL is set.
func New(cfg SiteConfig, opts ...Option) (*App, error) {
	cfg.setDefaults()

	a := &App{
		Config:   cfg,
		Echo:     echo.New(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = NewLogger(cfg.LogFormat, cfg.LogLevel)
	}

	if a.store == nil && cfg.StoreConfigured() {
		store, err := OpenStore(cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			return nil, fmt.Errorf("pubpreview: init store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store)
		a.pingStore(store)
	}
	if a.store == nil {
		a.logger.Warn("content store not configured; bot previews fall back to the generic site preview")
	}
	if a.upstream == nil && cfg.UpstreamURL != "" {
		a.upstream = NewUpstreamClient(cfg.UpstreamURL, cfg.UpstreamTimeout.Duration, a.logger)
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = NewMetrics(a.registry)
	a.Resolver = NewResolver(cfg, a.logger, a.Metrics, a.strategies()...)
	a.shellClient = &http.Client{Timeout: cfg.UpstreamTimeout.Duration}

	a.Echo.HideBanner = true
	a.Echo.HidePort = true
	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	return a, nil
}

// strategies returns the resolution chain: fixture, then the primary store,
// then the legacy API. Unconfigured sources are left out.
func (a *App) strategies() []Strategy {
	s := []Strategy{FixtureStrategy{Slug: a.Config.FixtureSlug}}
	if a.store != nil {
		s = append(s, StoreStrategy{Store: a.store, Timeout: a.Config.StoreTimeout.Duration})
	}
	if a.upstream != nil {
		s = append(s, UpstreamStrategy{Client: a.upstream, Timeout: a.Config.UpstreamTimeout.Duration})
	}
	return s
}

// pingStore checks the store once at startup. An unreachable store only
// degrades previews, so failure is logged and the tier stays in the chain.
func (a *App) pingStore(s *Store) {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.StoreTimeout.Duration)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		a.logger.Warn("content store unreachable at startup",
			slog.String("driver", s.Driver()),
			slog.Any("error", err))
	}
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Registry returns the Prometheus registry backing /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Start serves HTTP on the configured address until ctx is cancelled or the
// process receives SIGINT/SIGTERM, then shuts down gracefully.
func (a *App) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening",
			slog.String("addr", a.Config.Addr),
			slog.String("origin", a.Config.URL),
			slog.Any("tiers", a.Resolver.Tiers()))
		if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return a.Echo.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases content sources opened by New.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
