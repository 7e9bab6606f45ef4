// Package sinks implements progress consumers: structured logging, Prometheus
// collectors, and the worker run store. Each satisfies progress.Sink.
package sinks
