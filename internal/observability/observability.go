// Package observability provides structured logging, Prometheus metrics,
// and health checking for vendorcomply.
//
// Key features:
//   - Structured JSON logging with configurable log levels
//   - Prometheus metrics for compliance checks, alerts, queue and workers
//   - A collector reporting open alerts and vendor/document counts on scrape
//   - HTTP endpoints for /metrics, /health, and /ready
package observability
