// Package observability provides structured logging and metrics for the
// audit recorder.
//
// This package implements:
//   - zap logger construction from ObservabilityConfig
//   - Prometheus collectors for recorder and dispatcher outcomes
//
// The recorder and dispatcher depend on the Metrics interface so tests can
// pass NopMetrics.
package observability
