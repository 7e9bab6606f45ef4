// Command crawler discovers capital cities, fetches their weather forecasts
// and collects news headlines.
//
// Architecture overview:
//   - Stages: the capital stage walks the capital_list page and hands each
//     capital to the forecast stage through a bounded queue (in memory, or a
//     Redis list shared across processes). The news stage walks N news pages
//     on its own. Each stage runs in one worker goroutine.
//   - Fetching: Colly performs single GETs with an explicit timeout. With
//     fetcher.mode=headless pages render in chromedp; with auto, shell pages
//     flagged by the detector heuristic are re-fetched headless. A per-host
//     token bucket sits in front of either, and failed fetches are retried
//     within http.max_retries.
//   - Persistence: entities go to memory, Postgres (pgx) or MongoDB. Raw pages
//     may be archived to a directory or a GCS bucket. Forecast windows are
//     announced on Pub/Sub when enabled.
//   - Observability: zap for the process log plus one error log file per
//     worker; Prometheus metrics and run history behind /metrics and
//     /api/runs; periodic progress lines every progress.log_interval_seconds.
//
// Run locally:
//
//	go run ./cmd/crawler -config config.yaml
//
// Every key can be overridden with CRAWLER_<SECTION>_<KEY>, for example
// CRAWLER_STORE_BACKEND=postgres CRAWLER_DB_DSN=postgres://... . SIGINT or
// SIGTERM interrupts the workers and drains the ops server.
package main
