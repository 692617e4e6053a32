// Package api hosts the HTTP server, middleware, and REST handlers for the
// scraping service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v0/scrape for synchronous single-page fetches.
//   - POST /v0/crawl plus the status/cancel routes under /v0/crawl/... for
//     async jobs via the Coordinator.
//   - GET /v0/crawl/status/{id}/sites for per-site aggregates via the
//     ProgressRepository interface.
//
// Every /v0 route sits behind bearer-token auth; the preview token grants a
// throttled per-IP identity that can scrape and poll but not start crawls.
package api
