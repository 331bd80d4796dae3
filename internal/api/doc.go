// Package api hosts the HTTP server and middleware for the sentinel trigger.
// Routes:
//   - GET|POST /api/cron/sentinel runs the pipeline once. It requires
//     "Authorization: Bearer <auth.cron_secret>".
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
package api
