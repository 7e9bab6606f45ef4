// Package metrics exposes the Prometheus collectors shared by the crawler's
// fetchers, queues, workers and ops server.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// collectors groups every series the package owns so a test can build a
// private set against its own registry.
type collectors struct {
	fetches          *prometheus.CounterVec
	fetchBytes       *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec
	activeWorkers    prometheus.Gauge
	rateLimitWait    *prometheus.HistogramVec
	errorLogFailures *prometheus.CounterVec
	robotsFallbacks  *prometheus.CounterVec
	opsRequests      *prometheus.CounterVec
	opsDuration      *prometheus.HistogramVec
}

var (
	std  *collectors
	once sync.Once
)

func newCollectors(reg prometheus.Registerer) *collectors {
	f := promauto.With(reg)
	return &collectors{
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetches_total",
			Help: "Page fetches by site and result (success or failure).",
		}, []string{"site", "result"}),
		fetchBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_bytes_total",
			Help: "Body bytes fetched by site.",
		}, []string{"site"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch latency by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		}, []string{"site"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_queue_depth",
			Help: "Capitals waiting in a hand-off queue.",
		}, []string{"queue"}),
		activeWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Workers currently running.",
		}),
		rateLimitWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a per-host token.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"host"}),
		errorLogFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_error_log_failures_total",
			Help: "Worker error log files that could not be opened or written.",
		}, []string{"log"}),
		robotsFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_robots_fallback_total",
			Help: "robots.txt fetches that timed out and were treated as allow-all.",
		}, []string{"site"}),
		opsRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_ops_requests_total",
			Help: "Requests served by the ops server by method, route and status code.",
		}, []string{"method", "route", "code"}),
		opsDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_ops_request_duration_seconds",
			Help:    "Ops server latency by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
	}
}

// Init registers the collectors with the default registry. Every observer
// calls it, so explicit calls are only needed to pre-populate /metrics.
func Init() {
	once.Do(func() {
		std = newCollectors(prometheus.DefaultRegisterer)
	})
}

func get() *collectors {
	Init()
	return std
}

// SanitizeSite reduces a URL or bare host to its lowercase hostname, or
// "unknown" when none can be parsed.
func SanitizeSite(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler serves the default registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt. result is "success" or "failure".
func ObserveFetch(rawURL, result string, bytesFetched int, duration time.Duration) {
	get().observeFetch(rawURL, result, bytesFetched, duration)
}

func (c *collectors) observeFetch(rawURL, result string, n int, d time.Duration) {
	site := SanitizeSite(rawURL)
	c.fetches.WithLabelValues(site, result).Inc()
	if n > 0 {
		c.fetchBytes.WithLabelValues(site).Add(float64(n))
	}
	c.fetchDuration.WithLabelValues(site).Observe(d.Seconds())
}

// SetQueueDepth publishes the current length of a hand-off queue.
func SetQueueDepth(queue string, depth int) {
	get().queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// IncActiveWorkers marks a worker as running.
func IncActiveWorkers() { get().activeWorkers.Inc() }

// DecActiveWorkers marks a worker as no longer running.
func DecActiveWorkers() { get().activeWorkers.Dec() }

// ObserveRateLimitDelay records how long a fetch waited for its host's token.
func ObserveRateLimitDelay(host string, wait time.Duration) {
	get().rateLimitWait.WithLabelValues(host).Observe(wait.Seconds())
}

// ObserveErrorLogFailure counts an error log file that could not be used.
func ObserveErrorLogFailure(name string) {
	get().errorLogFailures.WithLabelValues(name).Inc()
}

// ObserveRobotsFallback counts a robots.txt fetch replaced by allow-all.
func ObserveRobotsFallback(site string) {
	get().robotsFallbacks.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveHTTPRequest records one request served by the ops server.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	get().observeRequest(method, route, code, duration)
}

func (c *collectors) observeRequest(method, route string, code int, d time.Duration) {
	c.opsRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.opsDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
