// Package api hosts the crawler's operations HTTP server. Routes:
//   - GET /healthz and /readyz for orchestrator health checks; readyz pings every registered
//     dependency.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs and /api/runs/{run_id} for the persisted worker run
//     history, read through store.RunRepository.
//
// The server is read-only. Workers are started, paused and resumed by the
// process that owns them, never over HTTP.
package api
