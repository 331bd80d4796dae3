// Package ratelimit implements a per-host token bucket so repeated fetches
// against one municipal portal stay polite.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/municipal-sentinel/internal/metrics"
	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. A non-positive DefaultRPS disables throttling.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not delays.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

// Fetcher throttles an underlying sentinel.PageFetcher through a Limiter.
type Fetcher struct {
	limiter *Limiter
	next    sentinel.PageFetcher
}

// Wrap returns a PageFetcher that waits on limiter before every request.
// A nil limiter returns next unchanged.
func Wrap(limiter *Limiter, next sentinel.PageFetcher) sentinel.PageFetcher {
	if limiter == nil {
		return next
	}
	return &Fetcher{limiter: limiter, next: next}
}

// Fetch waits for a token then delegates.
func (f *Fetcher) Fetch(ctx context.Context, request sentinel.FetchRequest) (sentinel.FetchResponse, error) {
	if err := f.limiter.Wait(ctx, request.URL); err != nil {
		return sentinel.FetchResponse{}, err
	}
	resp, err := f.next.Fetch(ctx, request)
	if err != nil {
		return sentinel.FetchResponse{}, fmt.Errorf("throttled fetch: %w", err)
	}
	return resp, nil
}
