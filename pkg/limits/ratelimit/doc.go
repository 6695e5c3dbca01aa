// Package ratelimit provides a sliding-window call limiter over a closed set
// of categories.
//
// # Overview
//
// Each category has a configured (window, max_calls) pair:
//
//   - ToolCalls: every guarded tool call
//   - HighRiskOps: value-moving operations
//   - PerRecipient: payments to one recipient address (keyed by address)
//
// For every composite key (category plus optional sub-key) the limiter stores
// the timestamps of recorded calls. A call is allowed while fewer than
// max_calls timestamps fall inside the trailing window.
//
// # Atomic Check-and-Record
//
// CheckAndRecordAtomic appends the timestamp first and then counts, so N
// concurrent callers against a limit of N-1 remaining can never all pass:
//
//	res, err := limiter.CheckAndRecordAtomic(ratelimit.PerRecipient, "0xabc...")
//	if err != nil {
//	    return err // carries a retry-after hint
//	}
//	if err := transfer(); err != nil {
//	    res.Release() // removes exactly the timestamp this call added
//	}
//
// # Memory Bounds
//
// Every stored sequence is capped at a fixed number of timestamps (oldest
// dropped). An operation counter triggers a full sweep once it reaches a
// threshold; the sweep trims every key against the longest configured window
// and deletes keys left empty, so memory stays bounded even when callers only
// ever call Check.
//
// # Thread Safety
//
// A single mutex guards all keys; every operation completes under it.
package ratelimit
