// Package progress defines the event structures emitted by crawl workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind denotes the milestone an Event represents.
type Kind string

// Supported event kinds.
const (
	KindWorkerStart   Kind = "WORKER_START"
	KindWorkerPaused  Kind = "WORKER_PAUSED"
	KindWorkerResumed Kind = "WORKER_RESUMED"
	KindWorkerDone    Kind = "WORKER_DONE"
	KindWorkerError   Kind = "WORKER_ERROR"
	KindFetchDone     Kind = "FETCH_DONE"
	KindItemDone      Kind = "ITEM_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single step of a worker run.
type Event struct {
	// RunID identifies one Run of one worker.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS   time.Time
	Kind Kind
	// Worker is the worker's name, which also names its error log.
	Worker string
	// URL is set on fetch and item events.
	URL string
	// OK reports whether the fetch or item succeeded.
	OK bool
	// StatusClass groups the HTTP status of a fetch; StatusOther when none.
	StatusClass StatusClass
	// Bytes is the response size for fetch events.
	Bytes int64
	// Items is how many entities an item produced or persisted.
	Items int64
	// Fraction is the worker's completion fraction after this event.
	Fraction float64
	// Dur is the fetch latency, or the run's wall time on WORKER_DONE/ERROR.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Event validation failures.
var (
	ErrNoRunID    = errors.New("progress event: run id is required")
	ErrNoTime     = errors.New("progress event: timestamp is required")
	ErrNoWorker   = errors.New("progress event: worker is required")
	ErrFetchShape = errors.New("progress event: fetch events need a url and a status class")
)

// Validate rejects events a sink could not store or aggregate.
func (e Event) Validate() error {
	switch {
	case e.RunID == uuid.Nil:
		return ErrNoRunID
	case e.TS.IsZero():
		return ErrNoTime
	case e.Worker == "":
		return ErrNoWorker
	case !e.Kind.known():
		return fmt.Errorf("progress event: unknown kind %q", e.Kind)
	case e.Kind == KindFetchDone && (e.URL == "" || e.StatusClass == ""):
		return ErrFetchShape
	case e.Fraction < 0 || e.Fraction > 1:
		return fmt.Errorf("progress event: fraction %v outside [0,1]", e.Fraction)
	case e.Dur < 0:
		return fmt.Errorf("progress event: negative duration %s", e.Dur)
	}
	return nil
}

func (k Kind) known() bool {
	switch k {
	case KindWorkerStart, KindWorkerPaused, KindWorkerResumed, KindWorkerDone,
		KindWorkerError, KindFetchDone, KindItemDone:
		return true
	}
	return false
}

// Terminal reports whether the event closes a run.
func (e Event) Terminal() bool {
	return e.Kind == KindWorkerDone || e.Kind == KindWorkerError
}

var statusClasses = [...]StatusClass{2: Status2xx, 3: Status3xx, 4: Status4xx, 5: Status5xx}

// ClassifyStatus maps an HTTP status code to its class. Codes outside
// 200-599 are StatusOther.
func ClassifyStatus(code int) StatusClass {
	if code < 200 || code > 599 {
		return StatusOther
	}
	return statusClasses[code/100]
}
