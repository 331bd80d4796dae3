// Package main hosts the sentinel service entrypoint for container deployments.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes /api/cron/sentinel behind a bearer secret, plus /healthz, /readyz and
//     /metrics. A scheduler (Cloud Scheduler, cron, Vercel-style cron) hits the trigger once a day.
//   - Pipeline: internal/pipeline.Runner invokes six snipers in sequence, each bounded by
//     pipeline.fetcher_timeout_seconds and isolated so a failure or panic yields an empty result. Entrants are
//     deduplicated ahead of distressed leads by normalized address, the first fifty targets are enriched, and the
//     digest is archived to the BlobStore and handed to the notifier.
//   - Persistence: license snapshots, docket alert history and the run log live in Postgres, SQLite or memory,
//     selected by database.backend. Digests are archived to GCS, local disk or memory under
//     <storage.prefix>/<yyyy-mm-dd>/<run id>.json.
//   - Fetching: Colly backs every feed and the listing scraper, with Chromedp available for the listing page when
//     headless.enabled is set. Agenda downloads are throttled per host when rate_limit.enabled is set.
//
// Quick checklist:
//   - Configure env vars: SENTINEL_AUTH_CRON_SECRET, SENTINEL_FEEDS_*, SENTINEL_SCRAPER_URL/TOKEN,
//     SENTINEL_DATABASE_BACKEND/DSN, SENTINEL_STORAGE_*, SENTINEL_PUBSUB_PROJECT_ID/TOPIC_NAME.
//   - Run locally: go run ./cmd/sentinel -config config.yaml, or go run . run for a single pipeline pass.
//   - Cloud Run: the container listens on PORT and shuts down cleanly on SIGTERM.
package main
