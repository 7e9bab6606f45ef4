package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	"github.com/JakeFAU/capital-forecast-crawler/internal/progress"
)

// PrometheusSink exports worker progress via Prometheus. Its collector names
// use the crawler_worker_ prefix so they never clash with internal/metrics.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runRuntime    *prometheus.HistogramVec
	fraction      *prometheus.GaugeVec
	items         *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	pauses        *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_worker_runs_started_total",
			Help: "Worker runs that have started.",
		}, []string{"worker"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_worker_runs_completed_total",
			Help: "Worker runs that ended, partitioned by result.",
		}, []string{"worker", "result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_worker_runs_active",
			Help: "Worker runs started but not yet ended.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_worker_run_seconds",
			Help:    "Wall time per completed worker run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"worker", "result"}),
		fraction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_worker_progress_ratio",
			Help: "Latest completion fraction reported by each worker.",
		}, []string{"worker"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_worker_items_total",
			Help: "Items processed by each worker, partitioned by result.",
		}, []string{"worker", "result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_worker_fetches_total",
			Help: "Fetch completions per worker, site and status class.",
		}, []string{"worker", "site", "status_class"}),
		pauses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_worker_pauses_total",
			Help: "Explicit pauses observed per worker.",
		}, []string{"worker"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runRuntime,
		s.fraction,
		s.items,
		s.fetches,
		s.pauses,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindWorkerStart:
		s.runsStarted.WithLabelValues(evt.Worker).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
		s.fraction.WithLabelValues(evt.Worker).Set(0)
	case progress.KindWorkerPaused:
		s.pauses.WithLabelValues(evt.Worker).Inc()
	case progress.KindWorkerDone, progress.KindWorkerError:
		result := "success"
		if evt.Kind == progress.KindWorkerError {
			result = "interrupted"
		}
		s.runsCompleted.WithLabelValues(evt.Worker, result).Inc()
		if evt.Dur > 0 {
			s.runRuntime.WithLabelValues(evt.Worker, result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsActive.Dec()
		}
		s.fraction.WithLabelValues(evt.Worker).Set(evt.Fraction)
	case progress.KindItemDone:
		s.items.WithLabelValues(evt.Worker, resultLabel(evt.OK)).Inc()
		s.fraction.WithLabelValues(evt.Worker).Set(evt.Fraction)
	case progress.KindFetchDone:
		class := evt.StatusClass
		if class == "" {
			class = progress.StatusOther
		}
		s.fetches.WithLabelValues(evt.Worker, crawler.SiteOf(evt.URL), string(class)).Inc()
	}
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[uuid.UUID]struct{})}
}

func (t *runTracker) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
