// Package api hosts the optional status server that runs alongside a mirror.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for the live run summary and frontier counters.
//   - GET /status/pages for the pages written so far, paginated.
package api
