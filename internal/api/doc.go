// Package api hosts the HTTP server, middleware, and REST handlers for the
// long-running downloader. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/downloads to queue URLs.
package api
