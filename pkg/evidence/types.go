package evidence

import (
	"context"
	"io"
	"time"
)

// Result is the outcome recorded for an audited tool call.
type Result string

const (
	// ResultSuccess means the guarded operation executed.
	ResultSuccess Result = "success"

	// ResultFailure means the operation was admitted but failed downstream.
	ResultFailure Result = "failure"

	// ResultRejected means admission control refused the operation.
	ResultRejected Result = "rejected"
)

// Valid reports whether r is one of the known results.
func (r Result) Valid() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultRejected:
		return true
	}
	return false
}

// ClientInfo identifies the agent or client that issued a call.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Entry is a single audit record for one admission decision or outcome.
//
// Arguments holds the sanitized call arguments. Values are one of nil,
// string, bool, a number, map[string]any, or []any, nested to any depth.
type Entry struct {
	// Identity
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`

	// Call
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     Result         `json:"result"`
	DurationMs int64          `json:"duration_ms"`

	// Success fields
	TransactionHash string `json:"transaction_hash,omitempty"`
	GasCost         string `json:"gas_cost,omitempty"`

	// Failure fields
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`

	// Rejection fields
	RejectionReason string `json:"rejection_reason,omitempty"`

	ClientInfo *ClientInfo `json:"client_info,omitempty"`

	// Hash chain linking each entry to the one logged before it.
	PrevHash string `json:"prev_hash,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// Clone returns a copy of e that shares no maps or slices with it.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Arguments != nil {
		c.Arguments = cloneMap(e.Arguments)
	}
	if e.ClientInfo != nil {
		ci := *e.ClientInfo
		c.ClientInfo = &ci
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Query defines filter parameters for reading entries back from a store.
type Query struct {
	// Time range
	Since *time.Time `json:"since,omitempty"` // Inclusive
	Until *time.Time `json:"until,omitempty"` // Exclusive

	// Filters
	RequestID       string `json:"request_id,omitempty"`
	Tool            string `json:"tool,omitempty"`
	TransactionHash string `json:"transaction_hash,omitempty"` // Case-insensitive
	Result          Result `json:"result,omitempty"`

	// Pagination, newest first
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Sink is the durable destination for audit entries. The recorder makes
// exactly one Write call per logged entry. Implementations must be safe for
// concurrent use.
type Sink interface {
	// Write persists one entry.
	Write(ctx context.Context, entry *Entry) error

	// Close flushes and releases resources.
	Close() error
}

// Store is a Sink that can also be read back and pruned.
type Store interface {
	Sink

	// Query returns entries matching q, newest first.
	Query(ctx context.Context, q *Query) ([]*Entry, error)

	// Count returns the number of entries matching q.
	Count(ctx context.Context, q *Query) (int64, error)

	// DeleteBefore removes entries logged before cutoff and returns how
	// many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Exporter writes entries to w in a specific format.
type Exporter interface {
	Export(ctx context.Context, entries []*Entry, w io.Writer) error
}
