// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/bestsellers for the current ranking.
//   - POST /v1/runs to trigger a run and GET /v1/runs/last to inspect it.
package api
