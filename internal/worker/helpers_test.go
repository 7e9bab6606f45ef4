package worker

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	"github.com/JakeFAU/capital-forecast-crawler/internal/logging"
	"github.com/JakeFAU/capital-forecast-crawler/internal/progress"
	"github.com/JakeFAU/capital-forecast-crawler/internal/queue"
)

var (
	listPage    = crawler.Page{Key: crawler.PageCapitalList, Template: "https://capitals.test/list"}
	weatherPage = crawler.Page{Key: crawler.PageWeather, Template: "https://weather.test/%s/%s/ext"}
	newsPage    = crawler.Page{Key: crawler.PageNews, Template: "https://news.test/latest"}
)

// listProducer discovers a fixed list of capitals per target.
type listProducer struct {
	name    string
	targets []crawler.Target
	found   map[string][]crawler.Capital

	mu        sync.Mutex
	discovers []string
}

func newListProducer(name string, capitals ...string) *listProducer {
	found := make([]crawler.Capital, 0, len(capitals))
	for _, c := range capitals {
		found = append(found, crawler.Capital{Name: c, Country: c + "land", ISO2Code: strings.ToUpper(c[:1]) + "X"})
	}
	return &listProducer{
		name:    name,
		targets: []crawler.Target{{Page: listPage}},
		found:   map[string][]crawler.Capital{listPage.Template: found},
	}
}

// pagedProducer walks n news pages and discovers nothing.
func pagedProducer(name string, n int) *listProducer {
	p := &listProducer{name: name, found: map[string][]crawler.Capital{}}
	for i := 1; i <= n; i++ {
		p.targets = append(p.targets, crawler.Target{
			Page:   newsPage,
			Params: map[string]string{"page": string(rune('0' + i))},
		})
	}
	return p
}

func (p *listProducer) Name() string              { return p.name }
func (p *listProducer) Targets() []crawler.Target { return p.targets }

func (p *listProducer) Discover(_ context.Context, target crawler.Target, _ []byte) ([]crawler.Capital, error) {
	url, _ := target.Resolve()
	p.mu.Lock()
	p.discovers = append(p.discovers, url)
	p.mu.Unlock()
	return p.found[url], nil
}

// recordingConsumer records the capitals it persisted.
type recordingConsumer struct {
	name string

	mu        sync.Mutex
	processed []string
	targets   map[string]crawler.Target
}

func newRecordingConsumer(name string) *recordingConsumer {
	return &recordingConsumer{name: name, targets: map[string]crawler.Target{}}
}

func (c *recordingConsumer) Name() string { return c.name }

func (c *recordingConsumer) Target(capital crawler.Capital) (crawler.Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.targets[capital.Name]; ok {
		return t, nil
	}
	return crawler.Target{
		Page:     weatherPage,
		PathArgs: []string{crawler.Slug(capital.Country), crawler.Slug(capital.Name)},
	}, nil
}

func (c *recordingConsumer) Process(_ context.Context, capital crawler.Capital, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed = append(c.processed, capital.Name)
	return nil
}

func (c *recordingConsumer) Processed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.processed...)
}

// scriptedFetcher answers every URL with a small body unless told to fail.
type scriptedFetcher struct {
	mu      sync.Mutex
	fail    map[string]int
	calls   []string
	onFetch func(url string)
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{fail: map[string]int{}}
}

// failTimes makes the next n fetches of url fail; n < 0 fails forever.
func (f *scriptedFetcher) failTimes(url string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[url] = n
}

func (f *scriptedFetcher) Fetch(_ context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, request.URL)
	remaining := f.fail[request.URL]
	if remaining > 0 {
		f.fail[request.URL] = remaining - 1
	}
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(request.URL)
	}
	if remaining != 0 {
		return crawler.FetchResponse{}, errors.New("simulated network error")
	}
	return crawler.FetchResponse{
		URL:        request.URL,
		StatusCode: 200,
		Body:       []byte("<html>\n<body>ok</body>\n</html>"),
		Duration:   time.Millisecond,
	}, nil
}

func (f *scriptedFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// recordingEmitter keeps every event.
type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) Events(kind progress.Kind) []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Event
	for _, evt := range e.events {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

type memBlobStore struct {
	mu      sync.Mutex
	objects map[string]string
}

func (s *memBlobStore) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string]string{}
	}
	s.objects[path] = string(body)
	return "mem://" + path, nil
}

type fixedHasher string

func (h fixedHasher) Hash([]byte) (string, error) { return string(h), nil }

// scriptedQueue hands out a fixed sequence of pops. An entry with a non-nil
// err is returned as that pop's failure.
type scriptedQueue struct {
	mu      sync.Mutex
	entries []queueEntry
}

type queueEntry struct {
	capital crawler.Capital
	err     error
}

func (q *scriptedQueue) Push(context.Context, crawler.Capital) error {
	return errors.New("scripted queue is read-only")
}

func (q *scriptedQueue) Pop(ctx context.Context) (crawler.Capital, error) {
	c, ok, err := q.TryPop(ctx)
	if err == nil && !ok {
		<-ctx.Done()
		return crawler.Capital{}, ctx.Err()
	}
	return c, err
}

func (q *scriptedQueue) TryPop(context.Context) (crawler.Capital, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return crawler.Capital{}, false, nil
	}
	next := q.entries[0]
	q.entries = q.entries[1:]
	if next.err != nil {
		return crawler.Capital{}, false, next.err
	}
	return next.capital, true, nil
}

func (q *scriptedQueue) Close() {}

var _ queue.Handoff = (*scriptedQueue)(nil)

// instantRetry retries up to max times without waiting.
type instantRetry struct{ max int }

func (r instantRetry) ShouldRetry(err error, attempt int) bool { return err != nil && attempt <= r.max }
func (instantRetry) Backoff(int) time.Duration                 { return 0 }

func observedErrorLog(t *testing.T, name string) (*logging.ErrorLog, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	errLog := logging.NewErrorLog(zap.New(core), name, logging.ErrorLogConfig{
		Dir:   t.TempDir(),
		Level: zapcore.WarnLevel,
	})
	return errLog, logs
}

func runAsync(ctx context.Context, w *Worker) <-chan error {
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not terminate")
		return nil
	}
}
