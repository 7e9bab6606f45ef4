// Package collyfetcher implements crawler.Fetcher with gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

// DefaultUserAgent mimics a desktop browser so pages serve their normal markup.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher performs exactly one GET per Fetch call. Retries belong to the
// worker's retry policy.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher. Every fetch clones one base collector, so the
// transport and the robots.txt cache are shared.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.RespectRobots {
		transport = newRobotsGuard(transport)
	}
	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	// NewCollector ignores robots.txt unless told otherwise.
	base.IgnoreRobotsTxt = !cfg.RespectRobots
	base.SetRequestTimeout(cfg.Timeout)
	base.WithTransport(transport)
	return &Fetcher{cfg: cfg, base: base}
}

// Fetch GETs request.URL. Non-2xx statuses, transport errors, timeouts and
// bodies that are not valid UTF-8 are all failures.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	v := &visit{started: time.Now()}
	c := f.collector()
	c.OnResponse(v.response)
	c.OnError(v.failure)

	done := make(chan error, 1)
	go func() {
		done <- c.Request(http.MethodGet, request.URL, nil, nil, requestHeaders(request))
	}()

	var err error
	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
	case err = <-done:
	}
	if v.err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, v.err)
	}
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	return v.result()
}

// collector returns a callback-free clone of the base collector.
func (f *Fetcher) collector() *colly.Collector {
	return f.base.Clone()
}

func requestHeaders(request crawler.FetchRequest) http.Header {
	h := request.Headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Accept-Charset") == "" {
		h.Set("Accept-Charset", "UTF-8")
	}
	return h
}

// visit collects what the collector callbacks report for one request.
type visit struct {
	started time.Time
	resp    crawler.FetchResponse
	err     error
}

func (v *visit) response(r *colly.Response) {
	v.resp = crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.started),
	}
}

func (v *visit) failure(r *colly.Response, err error) {
	if r != nil && r.StatusCode != 0 {
		v.err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		return
	}
	v.err = err
}

func (v *visit) result() (crawler.FetchResponse, error) {
	if v.resp.StatusCode < http.StatusOK || v.resp.StatusCode >= http.StatusMultipleChoices {
		return crawler.FetchResponse{}, fmt.Errorf("unexpected status %d for %s", v.resp.StatusCode, v.resp.URL)
	}
	if !utf8.Valid(v.resp.Body) {
		return crawler.FetchResponse{}, fmt.Errorf("%s: %w", v.resp.URL, crawler.ErrInvalidEncoding)
	}
	return v.resp, nil
}
