package query

import (
	"fmt"
	"strings"

	"mercator-hq/gatekeeper/pkg/evidence"
)

const (
	// DefaultLimit is the default number of entries to return if not specified.
	DefaultLimit = 100

	// MaxLimit is the maximum number of entries that can be returned in a single query.
	MaxLimit = 10000
)

// Validate validates a query and returns an error if any parameters are invalid.
func Validate(q *evidence.Query) error {
	if q.Limit < 0 {
		return evidence.NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > MaxLimit {
		return evidence.NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit))
	}

	if q.Offset < 0 {
		return evidence.NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}

	if q.Since != nil && q.Until != nil && q.Since.After(*q.Until) {
		return evidence.NewQueryError(q, fmt.Errorf("since must be before until"))
	}

	if q.Result != "" && !q.Result.Valid() {
		return evidence.NewQueryError(q, fmt.Errorf("invalid result: %s (must be 'success', 'failure', or 'rejected')", q.Result))
	}

	return nil
}

// ApplyDefaults applies default values to a query.
func ApplyDefaults(q *evidence.Query) {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
}

// Matches reports whether e satisfies every filter in q.
func Matches(e *evidence.Entry, q *evidence.Query) bool {
	if q == nil {
		return true
	}
	if q.Since != nil && e.Timestamp.Before(*q.Since) {
		return false
	}
	if q.Until != nil && !e.Timestamp.Before(*q.Until) {
		return false
	}
	if q.RequestID != "" && e.RequestID != q.RequestID {
		return false
	}
	if q.Tool != "" && e.Tool != q.Tool {
		return false
	}
	if q.TransactionHash != "" && !strings.EqualFold(e.TransactionHash, q.TransactionHash) {
		return false
	}
	if q.Result != "" && e.Result != q.Result {
		return false
	}
	return true
}

// Apply filters entries (already ordered newest first) and applies offset
// and limit. A zero limit means no limit.
func Apply(entries []*evidence.Entry, q *evidence.Query) []*evidence.Entry {
	out := make([]*evidence.Entry, 0)
	skipped := 0
	for _, e := range entries {
		if !Matches(e, q) {
			continue
		}
		if q != nil && skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if q != nil && q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}
