package security

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/gatekeeper/pkg/allowlist"
	"mercator-hq/gatekeeper/pkg/evidence/recorder"
	"mercator-hq/gatekeeper/pkg/limits"
	"mercator-hq/gatekeeper/pkg/limits/ratelimit"
	"mercator-hq/gatekeeper/pkg/limits/spending"
)

// PaymentParams describes one payment submitted for admission.
type PaymentParams struct {
	// RequestID correlates the payment with its audit entries.
	RequestID string `json:"request_id,omitempty"`

	// Token is the asset symbol the limits are looked up by.
	Token string `json:"token"`

	// Amount is the payment value as a decimal string.
	Amount string `json:"amount"`

	// Recipient is the destination address.
	Recipient string `json:"recipient"`

	// Batch is set when the payment is one item of a batch.
	Batch *spending.Batch `json:"batch,omitempty"`
}

// Report is the non-failing result of an introspection check.
type Report struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Deps are the collaborators of a Layer. Spending, Rates, Allowlist, and
// Audit are required.
type Deps struct {
	Spending  *spending.Manager
	Rates     *ratelimit.Limiter
	Allowlist *allowlist.Manager
	Audit     *recorder.AuditLogger

	// Metrics may be nil.
	Metrics *limits.Metrics

	// Tracer defaults to a noop tracer.
	Tracer trace.Tracer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Pipeline stage names, used as metric labels and span attributes. Rate
// limit stages share their category's name.
const (
	StageToolCalls    = string(ratelimit.ToolCalls)
	StageHighRiskOps  = string(ratelimit.HighRiskOps)
	StageAllowlist    = "allowlist"
	StageSpending     = "spending"
	StagePerRecipient = string(ratelimit.PerRecipient)
)

// StageError is returned by ValidatePayment and ReservePayment. It names the
// pipeline stage that rejected the payment.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RejectedStage returns the stage that rejected err, or "" if err did not
// come from the admission pipeline.
func RejectedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

func newReport(errs []error) Report {
	r := Report{Valid: len(errs) == 0, Errors: make([]string, 0, len(errs))}
	for _, err := range errs {
		r.Errors = append(r.Errors, err.Error())
	}
	return r
}
