package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/gatekeeper/pkg/admission"
	"mercator-hq/gatekeeper/pkg/allowlist"
	"mercator-hq/gatekeeper/pkg/evidence"
	"mercator-hq/gatekeeper/pkg/evidence/recorder"
	"mercator-hq/gatekeeper/pkg/limits"
	"mercator-hq/gatekeeper/pkg/limits/ratelimit"
	"mercator-hq/gatekeeper/pkg/limits/spending"
)

// Layer is the payment admission facade. It is safe for concurrent use to the
// extent its managers are.
type Layer struct {
	spending  *spending.Manager
	rates     *ratelimit.Limiter
	allowlist *allowlist.Manager
	audit     *recorder.AuditLogger
	metrics   *limits.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// stage is one step of the admission pipeline.
type stage struct {
	name string
	run  func() error
}

// New creates a Layer from deps.
func New(deps Deps) (*Layer, error) {
	switch {
	case deps.Spending == nil:
		return nil, errors.New("spending manager is required")
	case deps.Rates == nil:
		return nil, errors.New("rate limiter is required")
	case deps.Allowlist == nil:
		return nil, errors.New("allowlist manager is required")
	case deps.Audit == nil:
		return nil, errors.New("audit logger is required")
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("gatekeeper")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Layer{
		spending:  deps.Spending,
		rates:     deps.Rates,
		allowlist: deps.Allowlist,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		tracer:    tracer,
		logger:    logger.With("component", "security.layer"),
	}, nil
}

// ValidatePayment checks p against every admission rule without recording
// anything. The first failing stage's error is returned.
func (l *Layer) ValidatePayment(ctx context.Context, p PaymentParams) error {
	ctx, span := l.tracer.Start(ctx, "gatekeeper.validate_payment", trace.WithAttributes(paymentAttributes(p)...))
	defer span.End()
	start := time.Now()
	defer func() {
		l.metrics.RecordCheckDuration("validate_payment", time.Since(start).Seconds())
	}()

	recipient := allowlist.Normalize(p.Recipient)
	stages := []stage{
		{StageToolCalls, func() error { return l.checkRate(ratelimit.ToolCalls, "") }},
		{StageHighRiskOps, func() error { return l.checkRate(ratelimit.HighRiskOps, "") }},
		{StageAllowlist, func() error { return l.allowlist.Validate(p.Recipient) }},
		{StageSpending, func() error { return l.spending.Validate(p.Token, p.Amount, p.Batch) }},
		{StagePerRecipient, func() error { return l.checkRate(ratelimit.PerRecipient, recipient) }},
	}

	for _, s := range stages {
		if err := l.runStage(ctx, span, s, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordPayment charges p against every ledger. It is called after the
// payment has executed and is not gated by any limit. Rate limiter errors
// (configuration unavailable or a missing recipient) are joined and returned;
// malformed spending amounts are ignored.
func (l *Layer) RecordPayment(ctx context.Context, p PaymentParams) error {
	_, span := l.tracer.Start(ctx, "gatekeeper.record_payment", trace.WithAttributes(paymentAttributes(p)...))
	defer span.End()

	err := errors.Join(
		l.rates.RecordRequest(ratelimit.ToolCalls, ""),
		l.rates.RecordRequest(ratelimit.HighRiskOps, ""),
		l.rates.RecordRequest(ratelimit.PerRecipient, allowlist.Normalize(p.Recipient)),
	)
	l.spending.RecordSpending(p.Token, p.Amount)
	l.recordSpendMetric(p)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.logger.Error("failed to record payment", "request_id", p.RequestID, "error", err)
	}
	return err
}

// ReservePayment runs the pipeline in the same order as ValidatePayment but
// commits each counter as it passes. If a later stage fails, everything
// reserved so far is released before the error is returned. Releasing the
// returned reservation undoes every charge.
func (l *Layer) ReservePayment(ctx context.Context, p PaymentParams) (*admission.Reservation, error) {
	ctx, span := l.tracer.Start(ctx, "gatekeeper.reserve_payment", trace.WithAttributes(paymentAttributes(p)...))
	defer span.End()
	start := time.Now()
	defer func() {
		l.metrics.RecordCheckDuration("reserve_payment", time.Since(start).Seconds())
	}()

	var held []*admission.Reservation
	reserve := func(acquire func() (*admission.Reservation, error)) func() error {
		return func() error {
			r, err := acquire()
			if err != nil {
				return err
			}
			held = append(held, r)
			return nil
		}
	}

	recipient := allowlist.Normalize(p.Recipient)
	stages := []stage{
		{StageToolCalls, reserve(func() (*admission.Reservation, error) {
			return l.rates.CheckAndRecordAtomic(ratelimit.ToolCalls, "")
		})},
		{StageHighRiskOps, reserve(func() (*admission.Reservation, error) {
			return l.rates.CheckAndRecordAtomic(ratelimit.HighRiskOps, "")
		})},
		{StageAllowlist, func() error { return l.allowlist.Validate(p.Recipient) }},
		{StageSpending, reserve(func() (*admission.Reservation, error) {
			return l.spending.ValidateAndReserve(p.Token, p.Amount, p.Batch)
		})},
		{StagePerRecipient, reserve(func() (*admission.Reservation, error) {
			return l.rates.CheckAndRecordAtomic(ratelimit.PerRecipient, recipient)
		})},
	}

	for _, s := range stages {
		if err := l.runStage(ctx, span, s, p); err != nil {
			admission.Join("", time.Time{}, held...).Release()
			return nil, err
		}
	}

	joined := admission.Join("", time.Time{}, held...)
	l.metrics.RecordReservation("acquired")
	l.recordSpendMetric(p)
	l.logger.Debug("payment reserved", "request_id", p.RequestID, "token", p.Token, "amount", p.Amount)

	return admission.NewReservation(reservationKey(p), p.Amount, time.Now(), func() {
		joined.Release()
		l.metrics.RecordReservation("released")
		l.logger.Debug("payment reservation released", "request_id", p.RequestID)
	}), nil
}

// CheckSpendingLimits reports whether amount of token fits the spending
// ceilings.
func (l *Layer) CheckSpendingLimits(token, amount string) Report {
	if err := l.spending.Validate(token, amount, nil); err != nil {
		return newReport([]error{err})
	}
	return newReport(nil)
}

// CheckAddressAllowlist reports whether addr may receive payments.
func (l *Layer) CheckAddressAllowlist(addr string) Report {
	if err := l.allowlist.Validate(addr); err != nil {
		return newReport([]error{err})
	}
	return newReport(nil)
}

// CheckRateLimit reports every exhausted rate window. The perRecipient window
// is only checked when recipient is not empty.
func (l *Layer) CheckRateLimit(recipient string) Report {
	var errs []error
	for _, cat := range ratelimit.Categories {
		key := ""
		if cat == ratelimit.PerRecipient {
			key = allowlist.Normalize(recipient)
			if key == "" {
				continue
			}
		}
		if err := l.checkRate(cat, key); err != nil {
			errs = append(errs, err)
		}
	}
	return newReport(errs)
}

// LogSuccess records a successful tool call in the audit log.
func (l *Layer) LogSuccess(ctx context.Context, call recorder.Call, txHash, gasCost string) (*evidence.Entry, error) {
	return l.audit.LogSuccess(ctx, call, txHash, gasCost)
}

// LogFailure records a failed tool call in the audit log.
func (l *Layer) LogFailure(ctx context.Context, call recorder.Call, errMessage, errCode string) (*evidence.Entry, error) {
	return l.audit.LogFailure(ctx, call, errMessage, errCode)
}

// LogRejected records a tool call rejected by admission control.
func (l *Layer) LogRejected(ctx context.Context, call recorder.Call, reason string) (*evidence.Entry, error) {
	return l.audit.LogRejected(ctx, call, reason)
}

// GetRecentLogs returns up to n audit entries, newest first.
func (l *Layer) GetRecentLogs(n int) []*evidence.Entry {
	return l.audit.GetRecentLogs(n)
}

// GetLogsByRequestID returns the audit entries of one request, newest first.
func (l *Layer) GetLogsByRequestID(requestID string) []*evidence.Entry {
	return l.audit.GetLogsByRequestID(requestID)
}

// GetRemainingAllowance returns what token may still spend today.
func (l *Layer) GetRemainingAllowance(token string) (spending.Allowance, error) {
	return l.spending.GetRemainingAllowance(token)
}

// Reset clears every manager's state.
func (l *Layer) Reset() {
	l.spending.Reset()
	l.rates.ResetAll()
	l.allowlist.Reset()
	l.audit.ClearRecentLogs()
	l.logger.Info("admission state reset")
}

func (l *Layer) runStage(ctx context.Context, span trace.Span, s stage, p PaymentParams) error {
	err := s.run()
	l.metrics.RecordDecision(s.name, err == nil)
	if err == nil {
		return nil
	}

	if errors.Is(err, admission.ErrLimitExceeded) && admission.CodeOf(err) == admission.CodeRateLimited {
		l.metrics.RecordRateLimitHit(s.name)
	}
	span.SetAttributes(attribute.String("gatekeeper.rejected_stage", s.name))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	l.logger.WarnContext(ctx, "payment rejected",
		"stage", s.name,
		"code", admission.CodeOf(err),
		"reason", err.Error(),
		"request_id", p.RequestID,
		"token", p.Token,
		"recipient", p.Recipient,
	)
	return &StageError{Stage: s.name, Err: err}
}

func (l *Layer) checkRate(cat ratelimit.Category, key string) error {
	res, err := l.rates.Check(cat, key)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return admission.RateLimited(
			fmt.Sprintf("rate limit exceeded for %s: %d of %d calls used", cat, res.CurrentCount, res.MaxCount),
			res.RetryAfter,
		)
	}
	return nil
}

func (l *Layer) recordSpendMetric(p PaymentParams) {
	if l.metrics == nil {
		return
	}
	if amt, err := decimal.NewFromString(p.Amount); err == nil {
		l.metrics.RecordSpending(p.Token, amt.InexactFloat64())
	}
}

func reservationKey(p PaymentParams) string {
	if p.RequestID != "" {
		return "payment:" + p.RequestID
	}
	return "payment:" + p.Token + ":" + allowlist.Normalize(p.Recipient)
}

func paymentAttributes(p PaymentParams) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("gatekeeper.token", p.Token),
		attribute.String("gatekeeper.amount", p.Amount),
		attribute.String("gatekeeper.recipient", allowlist.Normalize(p.Recipient)),
	}
	if p.RequestID != "" {
		attrs = append(attrs, attribute.String("gatekeeper.request_id", p.RequestID))
	}
	if p.Batch != nil {
		attrs = append(attrs, attribute.Int("gatekeeper.batch_size", p.Batch.RecipientCount))
	}
	return attrs
}
