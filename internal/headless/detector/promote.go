package detector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

// DefaultPromoteAfter is how many flagged responses move a host to headless.
const DefaultPromoteAfter = 2

// PromotingConfig tunes a Promoting fetcher.
type PromotingConfig struct {
	// Heuristic flags static responses; nil uses NewHeuristic(0).
	Heuristic *Heuristic
	// PromoteAfter is the number of flagged responses after which a host
	// skips the static fetcher for the rest of the process.
	PromoteAfter int
	Logger       *zap.Logger
}

// Promoting fetches with a static fetcher first. A flagged response is
// re-fetched through the headless renderer, and once a host has been flagged
// PromoteAfter times every later fetch for it goes straight to headless.
type Promoting struct {
	static    crawler.Fetcher
	headless  crawler.Fetcher
	heuristic *Heuristic
	after     int
	logger    *zap.Logger

	mu       sync.Mutex
	flagged  map[string]int
	promoted map[string]bool
}

// NewPromoting wires the two fetchers.
func NewPromoting(static, headless crawler.Fetcher, cfg PromotingConfig) *Promoting {
	if cfg.Heuristic == nil {
		cfg.Heuristic = NewHeuristic(0)
	}
	if cfg.PromoteAfter <= 0 {
		cfg.PromoteAfter = DefaultPromoteAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Promoting{
		static:    static,
		headless:  headless,
		heuristic: cfg.Heuristic,
		after:     cfg.PromoteAfter,
		logger:    cfg.Logger,
		flagged:   map[string]int{},
		promoted:  map[string]bool{},
	}
}

// Promoted reports whether host now always renders headless.
func (p *Promoting) Promoted(host string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.promoted[strings.ToLower(host)]
}

// Fetch implements crawler.Fetcher. A failed static fetch is returned as is;
// only successful responses are candidates for promotion.
func (p *Promoting) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	host := hostOf(req.URL)
	if p.Promoted(host) {
		return p.render(ctx, req, "promoted_host")
	}

	resp, err := p.static.Fetch(ctx, req)
	if err != nil {
		return resp, err
	}
	reason, flagged := p.heuristic.Check(resp.StatusCode, resp.Body)
	if !flagged {
		return resp, nil
	}
	hits, promotedNow := p.flag(host)
	p.logger.Debug("promoting fetch to headless",
		zap.String("url", req.URL),
		zap.String("reason", reason),
		zap.Int("body_bytes", len(resp.Body)),
		zap.Int("host_hits", hits),
	)
	if promotedNow {
		p.logger.Info("host promoted to headless", zap.String("host", host), zap.Int("flagged", hits))
	}
	return p.render(ctx, req, reason)
}

func (p *Promoting) render(ctx context.Context, req crawler.FetchRequest, reason string) (crawler.FetchResponse, error) {
	rendered, err := p.headless.Fetch(ctx, req)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("headless render (%s): %w", reason, err)
	}
	rendered.UsedHeadless = true
	return rendered, nil
}

// flag counts one flagged response for host and reports whether this one
// crossed the promotion threshold.
func (p *Promoting) flag(host string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flagged[host]++
	hits := p.flagged[host]
	if hits < p.after || p.promoted[host] {
		return hits, false
	}
	p.promoted[host] = true
	return hits, true
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
