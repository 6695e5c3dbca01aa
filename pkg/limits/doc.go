// Package limits groups the quota side of payment admission control.
//
// # Overview
//
// The package is organized into sub-packages:
//
//   - spending: per-transaction, per-token daily, and aggregate daily ceilings
//   - ratelimit: sliding-window call limits per category and recipient
//   - storage: persistence of the daily spending ledger
//
// This package itself holds the Prometheus metrics shared by the admission
// pipeline.
//
// # Usage
//
//	reg := prometheus.NewRegistry()
//	metrics := limits.NewMetrics(reg)
//	metrics.RecordDecision("spending", false)
//
// A nil *Metrics is valid and records nothing.
//
// # Thread Safety
//
// All managers are safe for concurrent use. Each guards its state with a
// single mutex so that check-then-commit sequences are atomic.
package limits
