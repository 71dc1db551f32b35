package pubpreview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

const maxUpstreamBody = 2 << 20 // 2MB

// upstreamUserAgent identifies this service to the legacy API.
const upstreamUserAgent = "pubpreview/1.0 (+link-preview resolver)"

// UpstreamClient reads posts from the legacy WordPress-style content API.
// Requests go through a circuit breaker so a failing upstream costs one
// fast error per request instead of a full timeout. Safe for concurrent use.
type UpstreamClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewUpstreamClient creates a client for the API rooted at baseURL
// (the site root; "/wp-json/wp/v2/posts" is appended).
func NewUpstreamClient(baseURL string, timeout time.Duration, logger *slog.Logger) *UpstreamClient {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "upstream-api",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &UpstreamClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// FetchPostBySlug returns the first post the API reports for slug, or
// ErrNotFound when the result set is empty.
func (u *UpstreamClient) FetchPostBySlug(ctx context.Context, slug string) (UpstreamPost, error) {
	res, err := u.breaker.Execute(func() (interface{}, error) {
		return u.fetch(ctx, slug)
	})
	if err != nil {
		return UpstreamPost{}, err
	}
	return res.(UpstreamPost), nil
}

// BreakerState reports the circuit breaker state ("closed", "open", "half-open").
func (u *UpstreamClient) BreakerState() string {
	return u.breaker.State().String()
}

func (u *UpstreamClient) endpoint(slug string) string {
	q := url.Values{}
	q.Set("slug", slug)
	q.Set("_embed", "1")
	return u.baseURL + "/wp-json/wp/v2/posts?" + q.Encode()
}

func (u *UpstreamClient) fetch(ctx context.Context, slug string) (UpstreamPost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint(slug), nil)
	if err != nil {
		return UpstreamPost{}, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", upstreamUserAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return UpstreamPost{}, fmt.Errorf("upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return UpstreamPost{}, fmt.Errorf("upstream: unexpected status %d", resp.StatusCode)
	}

	var posts []UpstreamPost
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUpstreamBody)).Decode(&posts); err != nil {
		return UpstreamPost{}, fmt.Errorf("upstream: decode: %w", err)
	}
	if len(posts) == 0 {
		return UpstreamPost{}, ErrNotFound
	}
	return posts[0], nil
}
