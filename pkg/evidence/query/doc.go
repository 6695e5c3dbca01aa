// Package query validates audit queries and evaluates them against entries
// held in memory.
//
// # Query Validation
//
// The validator ensures query parameters are valid before execution:
//
//   - Limit >= 0 and <= MaxLimit
//   - Offset >= 0
//   - Result, if set, is success, failure, or rejected
//   - Time range is valid (since <= until)
//
// # In-Memory Evaluation
//
// Stores without an index (memory store, JSON lines files) filter with
// Matches and paginate with Apply:
//
//	q := &evidence.Query{Tool: "send_payment", Limit: 20}
//	if err := query.Validate(q); err != nil {
//	    return err
//	}
//	query.ApplyDefaults(q)
//	page := query.Apply(entries, q) // entries sorted newest first
package query
