package pubpreview

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultOrigin is used when no origin source is configured.
const DefaultOrigin = "https://bakinggreatbread.com"

// OriginEnvSources lists the environment variables consulted, in order, for
// the canonical site origin. The first non-empty value wins.
var OriginEnvSources = []string{"SITE_URL", "PUBLIC_SITE_URL", "VITE_SITE_URL", "URL", "DEPLOY_PRIME_URL"}

// SiteConfig holds all configuration for a preview service. It is resolved
// once at startup and passed down; nothing reads the environment per request.
type SiteConfig struct {
	Name          string `yaml:"name"`           // Site name (default "Baking Great Bread")
	URL           string `yaml:"url"`            // Canonical origin, no trailing slash
	Description   string `yaml:"description"`    // Generic description for site-level previews
	Locale        string `yaml:"locale"`         // og:locale (default "en_US")
	TwitterHandle string `yaml:"twitter_handle"` // twitter:site / twitter:creator

	DefaultImage    string `yaml:"default_image"`     // Fallback og:image, relative or absolute
	ImageWidth      int    `yaml:"image_width"`       // Declared og:image:width (default 1200)
	ImageHeight     int    `yaml:"image_height"`      // Declared og:image:height (default 630)
	FixtureSlug     string `yaml:"fixture_slug"`      // Reserved slug that always resolves
	DescriptionSize int    `yaml:"description_limit"` // Max description runes (default 160)

	Addr string `yaml:"addr"` // Listen address (default ":3000")

	StoreDriver  string   `yaml:"store_driver"` // "sqlite" or "pgx"; empty disables the store tier
	StoreDSN     string   `yaml:"store_dsn"`
	StoreTimeout Duration `yaml:"store_timeout"` // Per-lookup timeout (default 2s)

	UpstreamURL     string   `yaml:"upstream_url"`     // Legacy API base URL; empty disables the tier
	UpstreamTimeout Duration `yaml:"upstream_timeout"` // Per-request timeout (default 4s)

	AppShellURL string `yaml:"app_shell_url"` // Interactive app root document to proxy for humans

	LogFormat string `yaml:"log_format"` // "json" (default) or "text"
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Baking Great Bread"
	}
	if c.URL == "" {
		c.URL = DefaultOrigin
	}
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	if c.Description == "" {
		c.Description = "Recipes, techniques and guides for baking great bread at home."
	}
	if c.Locale == "" {
		c.Locale = "en_US"
	}
	if c.DefaultImage == "" {
		c.DefaultImage = "/og-default.jpg"
	}
	if c.ImageWidth == 0 {
		c.ImageWidth = 1200
	}
	if c.ImageHeight == 0 {
		c.ImageHeight = 630
	}
	if c.FixtureSlug == "" {
		c.FixtureSlug = "og-preview-test"
	}
	if c.DescriptionSize == 0 {
		c.DescriptionSize = 160
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.StoreTimeout.IsZero() {
		c.StoreTimeout = DurationFrom(2 * time.Second)
	}
	if c.UpstreamTimeout.IsZero() {
		c.UpstreamTimeout = DurationFrom(4 * time.Second)
	}
	c.UpstreamURL = strings.TrimRight(strings.TrimSpace(c.UpstreamURL), "/")
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// StoreConfigured reports whether the primary content store can be reached.
func (c SiteConfig) StoreConfigured() bool {
	return c.StoreDriver != "" && c.StoreDSN != ""
}

// LoadConfig builds a SiteConfig from an optional YAML file followed by
// environment overrides, then applies defaults. path may be empty.
func LoadConfig(path string) (SiteConfig, error) {
	var cfg SiteConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return SiteConfig{}, fmt.Errorf("pubpreview: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return SiteConfig{}, fmt.Errorf("pubpreview: parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return SiteConfig{}, err
	}
	cfg.setDefaults()
	return cfg, nil
}

// applyEnv overlays environment variables onto c. lookup is os.LookupEnv
// outside of tests.
func (c *SiteConfig) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	set := func(dst *string, key string) {
		if v := get(key); v != "" {
			*dst = v
		}
	}

	if origin := ResolveOrigin(get); origin != "" {
		c.URL = origin
	}
	set(&c.Name, "SITE_NAME")
	set(&c.Description, "SITE_DESCRIPTION")
	set(&c.Locale, "SITE_LOCALE")
	set(&c.TwitterHandle, "TWITTER_HANDLE")
	set(&c.DefaultImage, "DEFAULT_OG_IMAGE")
	set(&c.FixtureSlug, "PREVIEW_FIXTURE_SLUG")
	set(&c.Addr, "ADDR")
	set(&c.UpstreamURL, "UPSTREAM_API_URL")
	set(&c.AppShellURL, "APP_SHELL_URL")
	set(&c.LogFormat, "LOG_FORMAT")
	set(&c.LogLevel, "LOG_LEVEL")

	// DATABASE_URL selects PostgreSQL, DATABASE_PATH a local SQLite file.
	if dsn := get("DATABASE_URL"); dsn != "" {
		c.StoreDriver, c.StoreDSN = "pgx", dsn
	} else if path := get("DATABASE_PATH"); path != "" {
		c.StoreDriver, c.StoreDSN = "sqlite", path
	}

	for key, dst := range map[string]*Duration{
		"STORE_TIMEOUT":    &c.StoreTimeout,
		"UPSTREAM_TIMEOUT": &c.UpstreamTimeout,
	} {
		if v := get(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("pubpreview: %s: %w", key, err)
			}
		}
	}
	if v := get("DESCRIPTION_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 1 {
			return fmt.Errorf("pubpreview: DESCRIPTION_LIMIT must be an integer > 1, got %q", v)
		}
		c.DescriptionSize = n
	}
	return nil
}

// ResolveOrigin returns the first non-empty OriginEnvSources value with any
// trailing slash removed, or "" when none is set.
func ResolveOrigin(get func(string) string) string {
	for _, key := range OriginEnvSources {
		if v := strings.TrimSpace(get(key)); v != "" {
			return strings.TrimRight(v, "/")
		}
	}
	return ""
}

// Option configures additional App behavior.
type Option func(*App)

// WithStore injects a content store instead of opening one from config.
func WithStore(s PostFinder) Option {
	return func(a *App) {
		a.store = s
	}
}

// WithUpstream injects a legacy API client instead of building one from config.
func WithUpstream(u UpstreamFetcher) Option {
	return func(a *App) {
		a.upstream = u
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

// WithCustomRoutes registers additional routes on the Echo instance.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}
