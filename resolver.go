package pubpreview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eringen/pubpreview/excerpt"
	"github.com/eringen/pubpreview/views"
)

// PostFinder is the primary content store read path.
type PostFinder interface {
	FindPostBySlug(ctx context.Context, slug string) (ContentItem, error)
}

// UpstreamFetcher is the legacy content API read path.
type UpstreamFetcher interface {
	FetchPostBySlug(ctx context.Context, slug string) (UpstreamPost, error)
}

// Strategy is one tier of the resolution chain. TryResolve returns
// ErrNotFound for a clean miss and any other error for a failed lookup.
type Strategy interface {
	Tier() Tier
	TryResolve(ctx context.Context, slug string) (Record, error)
}

// FixtureStrategy answers the reserved validation slug without I/O.
type FixtureStrategy struct {
	Slug string
}

func (FixtureStrategy) Tier() Tier { return TierFixture }

func (f FixtureStrategy) TryResolve(_ context.Context, slug string) (Record, error) {
	if f.Slug == "" || slug != f.Slug {
		return Record{}, ErrNotFound
	}
	return Record{Kind: TierFixture, Fixture: true}, nil
}

// StoreStrategy looks the slug up in the primary store. Drafts and rows
// without a publish date are misses.
type StoreStrategy struct {
	Store   PostFinder
	Timeout time.Duration
}

func (StoreStrategy) Tier() Tier { return TierStore }

func (s StoreStrategy) TryResolve(ctx context.Context, slug string) (Record, error) {
	if s.Store == nil {
		return Record{}, ErrStoreUnconfigured
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	item, err := s.Store.FindPostBySlug(ctx, slug)
	if err != nil {
		return Record{}, err
	}
	if !item.Public() {
		return Record{}, ErrNotFound
	}
	return Record{Kind: TierStore, Item: &item}, nil
}

// UpstreamStrategy asks the legacy API for the slug.
type UpstreamStrategy struct {
	Client  UpstreamFetcher
	Timeout time.Duration
}

func (UpstreamStrategy) Tier() Tier { return TierUpstream }

func (u UpstreamStrategy) TryResolve(ctx context.Context, slug string) (Record, error) {
	if u.Client == nil {
		return Record{}, ErrNotFound
	}
	if u.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}
	post, err := u.Client.FetchPostBySlug(ctx, slug)
	if err != nil {
		return Record{}, err
	}
	return Record{Kind: TierUpstream, Post: &post}, nil
}

// Resolution is the outcome of Resolve. Payload is nil when no tier had the
// slug. Degraded is set when any tier failed with an error rather than a
// clean miss; Err holds the last such error.
type Resolution struct {
	Payload  *views.PreviewPayload
	Tier     Tier
	Degraded bool
	Err      error
}

// Resolver runs the strategies in order and stops at the first hit.
type Resolver struct {
	cfg        SiteConfig
	strategies []Strategy
	logger     *slog.Logger
	metrics    *Metrics
}

// NewResolver creates a Resolver over strategies, tried in the given order.
// logger and metrics may be nil.
func NewResolver(cfg SiteConfig, logger *slog.Logger, metrics *Metrics, strategies ...Strategy) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, strategies: strategies, logger: logger, metrics: metrics}
}

// Tiers lists the configured tiers in resolution order.
func (r *Resolver) Tiers() []Tier {
	tiers := make([]Tier, len(r.strategies))
	for i, s := range r.strategies {
		tiers[i] = s.Tier()
	}
	return tiers
}

// Resolve produces the preview for slug. It never fails: tier errors are
// skipped (the caller logs Err), and a total miss yields a nil Payload.
func (r *Resolver) Resolve(ctx context.Context, slug string) Resolution {
	var res Resolution
	for _, s := range r.strategies {
		start := time.Now()
		rec, err := r.try(ctx, s, slug)
		if err == nil {
			p, verr := r.normalize(slug, rec)
			if verr == nil {
				r.metrics.RecordTier(s.Tier(), "hit", time.Since(start))
				res.Payload = &p
				res.Tier = s.Tier()
				return res
			}
			// A record that cannot make a valid preview will not improve on
			// retry, so it is a miss rather than a degradation.
			r.metrics.RecordTier(s.Tier(), "invalid", time.Since(start))
			r.logger.Debug("preview record rejected",
				slog.String("tier", string(s.Tier())),
				slog.String("slug", slug),
				slog.Any("error", verr))
			continue
		}
		if errors.Is(err, ErrNotFound) {
			r.metrics.RecordTier(s.Tier(), "miss", time.Since(start))
			continue
		}
		r.metrics.RecordTier(s.Tier(), "error", time.Since(start))
		r.logger.Debug("preview tier failed",
			slog.String("tier", string(s.Tier())),
			slog.String("slug", slug),
			slog.Any("error", err))
		res.Degraded = true
		res.Err = err
	}
	res.Tier = TierNone
	return res
}

// try runs one strategy, turning a panic into an error.
func (r *Resolver) try(ctx context.Context, s Strategy, slug string) (rec Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s tier panicked: %v", s.Tier(), p)
		}
	}()
	return s.TryResolve(ctx, slug)
}

// normalize converts a tier record into the single payload shape.
func (r *Resolver) normalize(slug string, rec Record) (views.PreviewPayload, error) {
	var p views.PreviewPayload
	switch {
	case rec.Kind == TierFixture && rec.Fixture:
		p = r.cfg.FixturePreview()
	case rec.Kind == TierStore && rec.Item != nil:
		p = r.fromStore(slug, *rec.Item)
	case rec.Kind == TierUpstream && rec.Post != nil:
		p = r.fromUpstream(slug, *rec.Post)
	default:
		return views.PreviewPayload{}, fmt.Errorf("malformed %q record", rec.Kind)
	}
	if err := p.Validate(); err != nil {
		return views.PreviewPayload{}, err
	}
	return p, nil
}

func (r *Resolver) fromStore(slug string, item ContentItem) views.PreviewPayload {
	title := strings.TrimSpace(item.Title)
	p := r.cfg.basePreview()
	p.Type = views.TypeArticle
	if title != "" {
		p.Title = r.cfg.titled(title)
	}
	p.Description = excerpt.Clean(item.Summary, r.cfg.DescriptionSize)
	if p.Description == "" {
		p.Description = r.cfg.articleFallbackDescription()
	}
	p.Canonical = r.cfg.PostURL(slug)
	p.Image.URL = r.cfg.ResolveImage(
		[]string{item.SocialImageURL, item.InlineImageURL, item.HeroImageURL},
		r.cfg.DefaultImage,
		item.UpdatedAt,
	)
	p.Image.Alt = title
	p.PublishedAt = item.PublishedAt
	p.ModifiedAt = item.UpdatedAt
	return p
}

func (r *Resolver) fromUpstream(slug string, post UpstreamPost) views.PreviewPayload {
	title := excerpt.DecodeEntities(excerpt.StripHTML(post.Title.Rendered))
	p := r.cfg.basePreview()
	p.Type = views.TypeArticle
	if title != "" {
		p.Title = r.cfg.titled(title)
	}
	p.Description = excerpt.Clean(post.Excerpt.Rendered, r.cfg.DescriptionSize)
	if p.Description == "" {
		p.Description = r.cfg.articleFallbackDescription()
	}
	p.Canonical = r.cfg.PostURL(slug)

	media, ok := post.FeaturedImage()
	p.Image.URL = r.cfg.ResolveImage([]string{media.SourceURL}, r.cfg.DefaultImage, post.Modified)
	p.Image.Alt = title
	if ok {
		if alt := strings.TrimSpace(media.AltText); alt != "" {
			p.Image.Alt = alt
		}
		if media.MediaDetails.Width > 0 && media.MediaDetails.Height > 0 {
			p.Image.Width = media.MediaDetails.Width
			p.Image.Height = media.MediaDetails.Height
		}
	}
	p.PublishedAt = post.Date
	p.ModifiedAt = post.Modified
	return p
}

// PostURL is the canonical human-facing URL of a blog post.
func (c SiteConfig) PostURL(slug string) string {
	return c.AbsoluteURL("/blog/" + url.PathEscape(slug))
}
