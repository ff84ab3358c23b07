// Package observability provides the portal's structured logger and
// Prometheus metrics.
package observability
