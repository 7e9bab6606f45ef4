package progress

import "context"

// Sink receives delivered batches. Consume is called from one goroutine at a
// time per sink and must return once ctx is done. Close is called once, after
// the last batch.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is what workers report to. *Hub is the production Emitter.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc turns a func into an Emitter.
type EmitterFunc func(Event)

// Emit calls f.
func (f EmitterFunc) Emit(evt Event) { f(evt) }

// Discard ignores every event.
var Discard Emitter = EmitterFunc(func(Event) {})
