package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

func TestFetchReturnsBodyVerbatim(t *testing.T) {
	t.Parallel()

	var gotUA, gotCharset, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCharset = r.Header.Get("Accept-Charset")
		gotTrace = r.Header.Get("X-Trace")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>Hà Nội</p>\n<p>Huế</p>\n"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/vn/hanoi/ext",
		Headers: http.Header{"X-Trace": {"abc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "<p>Hà Nội</p>\n<p>Huế</p>\n", string(resp.Body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, "UTF-8", gotCharset)
	assert.Equal(t, "abc", gotTrace)
}

func TestFetchAllowsRevisits(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchFailsOnErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchRejectsInvalidUTF8(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte{'o', 'k', 0xff, 0xfe})
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrInvalidEncoding))
}

func TestFetchTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFetchRespectsRobotsWhenAsked(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	polite := New(Config{Timeout: time.Second, RespectRobots: true})
	_, err := polite.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/private/page"})
	require.Error(t, err)
	_, err = polite.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/public"})
	require.NoError(t, err)

	_, err = New(Config{Timeout: time.Second}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/private/page"})
	require.NoError(t, err, "robots.txt is ignored by default")
}

func TestFetchFallsBackWhenRobotsTimesOut(t *testing.T) {
	t.Parallel()

	var robotsHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 100 * time.Millisecond, RespectRobots: true})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/vn/hanoi"})
	require.NoError(t, err, "an unreachable robots.txt allows the fetch")
	assert.Equal(t, "ok", string(resp.Body))
	assert.Positive(t, robotsHits.Load())
}

func TestCollectorSettings(t *testing.T) {
	t.Parallel()

	c := New(Config{UserAgent: "capital-bot", RespectRobots: true, Timeout: time.Second}).collector()
	assert.Equal(t, "capital-bot", c.UserAgent)
	assert.False(t, c.IgnoreRobotsTxt)
	assert.True(t, c.AllowURLRevisit)

	c = New(Config{}).collector()
	assert.Equal(t, DefaultUserAgent, c.UserAgent)
	assert.True(t, c.IgnoreRobotsTxt)
}

func TestRequestHeaders(t *testing.T) {
	t.Parallel()

	h := requestHeaders(crawler.FetchRequest{})
	assert.Equal(t, "UTF-8", h.Get("Accept-Charset"))

	in := http.Header{"X-Trace": {"yes"}, "Accept-Charset": {"ISO-8859-1"}}
	h = requestHeaders(crawler.FetchRequest{Headers: in})
	assert.Equal(t, "yes", h.Get("X-Trace"))
	assert.Equal(t, "ISO-8859-1", h.Get("Accept-Charset"))
	h.Set("X-Trace", "changed")
	assert.Equal(t, "yes", in.Get("X-Trace"), "caller headers are not modified")
}

func TestVisitCallbacks(t *testing.T) {
	t.Parallel()

	v := &visit{started: time.Now()}
	v.response(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://weather.example/vn/hanoi/ext")},
	})
	resp, err := v.result()
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "body", string(resp.Body))
	assert.Equal(t, "ok", resp.Headers.Get("X-Resp"))

	v.failure(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	assert.EqualError(t, v.err, "status 502: Bad Gateway")

	v = &visit{}
	v.failure(nil, context.DeadlineExceeded)
	assert.ErrorIs(t, v.err, context.DeadlineExceeded)

	v = &visit{resp: crawler.FetchResponse{StatusCode: http.StatusFound}}
	_, err = v.result()
	assert.ErrorContains(t, err, "unexpected status 302")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
