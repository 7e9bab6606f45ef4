package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	"github.com/JakeFAU/capital-forecast-crawler/internal/metrics"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsGuard sits in front of the collector's transport when robots.txt is
// honored. A robots.txt fetch that keeps timing out is answered with an allow-all file
// so a capital page is never lost to an unreachable /robots.txt.
type robotsGuard struct {
	next   http.RoundTripper
	policy crawler.RetryPolicy
	wait   func(context.Context, time.Duration) error
}

func newRobotsGuard(next http.RoundTripper) *robotsGuard {
	return &robotsGuard{
		next:   next,
		policy: crawler.NewExponentialRetryPolicy(3, 250*time.Millisecond, time.Second),
		wait:   waitFor,
	}
}

func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots guard: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := g.next.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}

	ctx := req.Context()
	for attempt := 1; ; attempt++ {
		resp, err := g.next.RoundTrip(req.Clone(ctx))
		if err == nil {
			return resp, nil
		}
		// The collector's request timeout surfaces as an expired deadline on
		// the request context, reported as either Canceled or DeadlineExceeded.
		expired := deadlinePassed(ctx)
		if !expired && !timedOut(err) {
			return nil, fmt.Errorf("robots fetch %s: %w", req.URL.Host, err)
		}
		if expired || !g.policy.ShouldRetry(err, attempt) {
			return g.fallback(req), nil
		}
		if werr := g.wait(ctx, g.policy.Backoff(attempt)); werr != nil {
			if deadlinePassed(ctx) {
				return g.fallback(req), nil
			}
			return nil, fmt.Errorf("robots fetch %s: %w", req.URL.Host, werr)
		}
	}
}

func (g *robotsGuard) fallback(req *http.Request) *http.Response {
	metrics.ObserveRobotsFallback(req.URL.Host)
	return allowAll(req)
}

func deadlinePassed(ctx context.Context) bool {
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}

func waitFor(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func allowAll(req *http.Request) *http.Response {
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Request:       req,
	}
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
