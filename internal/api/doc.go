// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs and /api/runs/{run_id} for run history via the
//     RunRepository interface.
//   - GET /api/tasks, POST /api/tasks/{name} and POST
//     /api/tasks/{name}/cancel for live pool tasks.
package api
