// Package headless renders pages in headless Chrome for sites whose content
// only appears after JavaScript runs.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

// Config controls the headless fetcher.
type Config struct {
	// MaxParallel bounds open tabs; 0 means unbounded.
	MaxParallel int
	UserAgent   string
	// NavigationTimeout caps one render from navigation to DOM snapshot (15s).
	NavigationTimeout time.Duration
	// Settle is the pause after <body> is ready, for late scripts (500ms).
	// A negative value disables it.
	Settle time.Duration
	// ExecPath overrides the Chrome binary chromedp looks for.
	ExecPath string
}

// Fetcher implements crawler.Fetcher by rendering each request in its own
// tab of one shared browser.
type Fetcher struct {
	cfg     Config
	tabs    *semaphore.Weighted
	browser context.Context
	stop    context.CancelFunc
}

// New prepares the browser allocator. Chrome starts with the first Fetch.
func New(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless: max_parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 15 * time.Second
	}
	switch {
	case cfg.Settle < 0:
		cfg.Settle = 0
	case cfg.Settle == 0:
		cfg.Settle = 500 * time.Millisecond
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	browser, stop := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{cfg: cfg, browser: browser, stop: stop}
	if cfg.MaxParallel > 0 {
		f.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() { f.stop() }

// Fetch renders request.URL and returns the serialized DOM. As with plain
// HTTP, a non-2xx document status or a body that is not UTF-8 fails.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.tabs != nil {
		if err := f.tabs.Acquire(ctx, 1); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("wait for headless tab: %w", err)
		}
		defer f.tabs.Release(1)
	}

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	defer context.AfterFunc(ctx, cancel)()

	doc := &document{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	if err := chromedp.Run(tab, f.tasks(request, &html, &location)); err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, ctx.Err())
		}
		return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	resp := doc.response(request.URL, location)
	resp.Body = []byte(html)
	resp.Duration = time.Since(start)
	if err := checkResponse(resp); err != nil {
		return crawler.FetchResponse{}, err
	}
	return resp, nil
}

func (f *Fetcher) tasks(request crawler.FetchRequest, html, location *string) chromedp.Tasks {
	tasks := chromedp.Tasks{
		network.Enable(),
		network.SetExtraHTTPHeaders(extraHeaders(request.Headers)),
	}
	if f.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(f.cfg.UserAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if f.cfg.Settle > 0 {
		tasks = append(tasks, chromedp.Sleep(f.cfg.Settle))
	}
	return append(tasks,
		chromedp.Location(location),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	)
}

func checkResponse(resp crawler.FetchResponse) error {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, resp.URL)
	}
	if !utf8.Valid(resp.Body) {
		return fmt.Errorf("%s: %w", resp.URL, crawler.ErrInvalidEncoding)
	}
	return nil
}

// extraHeaders flattens h for the DevTools protocol, which takes one value
// per name; the last value wins. Accept-Charset is always UTF-8.
func extraHeaders(h http.Header) network.Headers {
	out := network.Headers{"Accept-Charset": "UTF-8"}
	for name, values := range h {
		if len(values) == 0 || http.CanonicalHeaderKey(name) == "Accept-Charset" {
			continue
		}
		out[name] = values[len(values)-1]
	}
	return out
}

// document remembers the first top-level document response of a tab.
// Frames load later documents, which are ignored.
type document struct {
	mu      sync.Mutex
	seen    bool
	status  int
	url     string
	headers http.Header
}

func (d *document) observe(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(e.Response.Status)
	d.url = e.Response.URL
	d.headers = http.Header{}
	for name, value := range e.Response.Headers {
		if list, ok := value.([]any); ok {
			for _, v := range list {
				d.headers.Add(name, fmt.Sprint(v))
			}
			continue
		}
		d.headers.Add(name, fmt.Sprint(value))
	}
}

// response describes the document. Without a captured response the page is
// assumed to have loaded at location, or at the requested URL.
func (d *document) response(requested, location string) crawler.FetchResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp := crawler.FetchResponse{
		URL:          d.url,
		StatusCode:   d.status,
		Headers:      d.headers.Clone(),
		UsedHeadless: true,
	}
	if resp.URL == "" {
		resp.URL = location
	}
	if resp.URL == "" {
		resp.URL = requested
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	return resp
}
