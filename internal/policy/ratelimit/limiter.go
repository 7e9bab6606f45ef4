// Package ratelimit spaces out requests to the same host with a token bucket
// per host. It is politeness, not retry: a fetch is delayed, never repeated.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	"github.com/JakeFAU/capital-forecast-crawler/internal/metrics"
)

// HostLimit overrides the default bucket for one host.
type HostLimit struct {
	Host  string
	RPS   float64
	Burst int
}

// Config holds the default bucket and per-host overrides. A non-positive RPS
// leaves that host unthrottled.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Hosts        []HostLimit
}

// Limiter hands out one token bucket per host, created on first use.
type Limiter struct {
	fallback  HostLimit
	overrides map[string]HostLimit

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	l := &Limiter{
		fallback:  HostLimit{RPS: cfg.DefaultRPS, Burst: cfg.DefaultBurst},
		overrides: make(map[string]HostLimit, len(cfg.Hosts)),
		buckets:   make(map[string]*rate.Limiter),
	}
	for _, h := range cfg.Hosts {
		l.overrides[strings.ToLower(h.Host)] = h
	}
	return l
}

func bucket(h HostLimit) *rate.Limiter {
	burst := max(h.Burst, 1)
	if h.RPS <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(h.RPS), burst)
}

func (l *Limiter) bucketFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[host]
	if !ok {
		limit, found := l.overrides[host]
		if !found {
			limit = l.fallback
		}
		b = bucket(limit)
		l.buckets[host] = b
	}
	return b
}

// Wait blocks until rawURL's host has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := crawler.SiteOf(rawURL)
	start := time.Now()
	if err := l.bucketFor(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Wrap returns a Fetcher that waits for a token before delegating to next.
func (l *Limiter) Wrap(next crawler.Fetcher) crawler.Fetcher {
	return crawler.FetcherFunc(func(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
		if err := l.Wait(ctx, request.URL); err != nil {
			return crawler.FetchResponse{}, err
		}
		return next.Fetch(ctx, request)
	})
}
