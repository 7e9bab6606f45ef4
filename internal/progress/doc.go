// Package progress carries worker progress off the crawl path. Workers emit
// events into a non-blocking Hub, which batches them on a background
// goroutine and fans them out to sinks (logs, Prometheus, the run store).
package progress
