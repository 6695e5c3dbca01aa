package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"mercator-hq/gatekeeper/pkg/admission"
	"mercator-hq/gatekeeper/pkg/evidence"
)

const (
	// DefaultCapacity is the ring buffer size used when Config.Capacity is zero.
	DefaultCapacity = 1000

	// DefaultWriteTimeout bounds a single sink write.
	DefaultWriteTimeout = 5 * time.Second

	// sinkErrorLogInterval is the minimum spacing between sink failure logs.
	sinkErrorLogInterval = 10 * time.Second
)

// ErrInvalidResult is returned by Log when the entry has no known result.
var ErrInvalidResult = errors.New("audit entry result must be success, failure, or rejected")

// Config contains configuration for the audit logger.
type Config struct {
	// Enabled forwards entries to the durable sink. The ring buffer is
	// always populated.
	Enabled bool

	// Capacity is the ring buffer size.
	// Default: 1000
	Capacity int

	// LogPath is reported by GetLogPath for operators.
	LogPath string

	// WriteTimeout bounds each sink write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// Call describes the tool invocation an entry is about.
type Call struct {
	RequestID  string
	Tool       string
	Arguments  map[string]any
	Duration   time.Duration
	ClientInfo *evidence.ClientInfo
}

// Option configures an AuditLogger.
type Option func(*AuditLogger)

// WithClock sets the clock used for entry timestamps.
func WithClock(clock admission.Clock) Option {
	return func(a *AuditLogger) {
		a.now = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *AuditLogger) {
		a.logger = logger
	}
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(gen func() string) Option {
	return func(a *AuditLogger) {
		a.newID = gen
	}
}

// WithOnSinkError registers a hook invoked after every failed sink write.
func WithOnSinkError(fn func(error)) Option {
	return func(a *AuditLogger) {
		a.onSinkError = fn
	}
}

// WithChainHead seeds the hash chain, typically with the hash of the last
// entry already in the durable sink.
func WithChainHead(hash string) Option {
	return func(a *AuditLogger) {
		a.lastHash = hash
	}
}

// AuditLogger records admission decisions. It keeps the most recent entries
// in a fixed-capacity ring buffer and, when enabled, forwards each entry to
// a durable sink. Arguments are sanitized before anything is stored.
type AuditLogger struct {
	config      Config
	sink        evidence.Sink
	now         admission.Clock
	newID       func() string
	logger      *slog.Logger
	onSinkError func(error)

	errLog     *rate.Limiter
	suppressed int

	mu       sync.Mutex
	ring     []*evidence.Entry
	next     int
	size     int
	lastHash string
	closed   bool

	// sinkMu is taken before mu is released so sink writes happen in
	// chain order.
	sinkMu sync.Mutex
}

// New creates an audit logger. sink may be nil, in which case entries are
// kept in memory only.
func New(cfg Config, sink evidence.Sink, opts ...Option) *AuditLogger {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	a := &AuditLogger{
		config: cfg,
		sink:   sink,
		now:    admission.SystemClock,
		newID:  func() string { return uuid.New().String() },
		logger: slog.Default(),
		errLog: rate.NewLimiter(rate.Every(sinkErrorLogInterval), 1),
		ring:   make([]*evidence.Entry, cfg.Capacity),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "evidence.recorder")

	a.logger.Info("audit logger initialized",
		"enabled", cfg.Enabled,
		"capacity", cfg.Capacity,
		"sink", sink != nil,
		"log_path", cfg.LogPath,
	)
	return a
}

// Log assigns an id and timestamp to entry, sanitizes its arguments, links
// it into the hash chain, and stores it. The stored entry is returned.
//
// If the sink write fails the entry is still kept in memory; the returned
// error is then a *evidence.SinkError and the entry is non-nil.
func (a *AuditLogger) Log(ctx context.Context, entry evidence.Entry) (*evidence.Entry, error) {
	if !entry.Result.Valid() {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidResult, entry.Result)
	}

	stored := entry.Clone()
	stored.ID = a.newID()
	stored.Timestamp = a.now().UTC()
	stored.Arguments = Sanitize(entry.Arguments)

	a.mu.Lock()
	stored.PrevHash = a.lastHash
	hash, err := HashEntry(stored)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	stored.Hash = hash
	a.lastHash = hash
	a.appendLocked(stored)
	forward := a.config.Enabled && a.sink != nil && !a.closed
	if forward {
		a.sinkMu.Lock()
	}
	a.mu.Unlock()

	result := stored.Clone()
	if !forward {
		return result, nil
	}

	err = a.write(ctx, stored)
	a.sinkMu.Unlock()
	if err != nil {
		return result, evidence.NewSinkError(stored.ID, err)
	}
	return result, nil
}

// LogSuccess records a call that executed.
func (a *AuditLogger) LogSuccess(ctx context.Context, call Call, txHash, gasCost string) (*evidence.Entry, error) {
	e := a.fromCall(call, evidence.ResultSuccess)
	e.TransactionHash = txHash
	e.GasCost = gasCost
	return a.Log(ctx, e)
}

// LogFailure records a call that was admitted but failed.
func (a *AuditLogger) LogFailure(ctx context.Context, call Call, errMessage, errCode string) (*evidence.Entry, error) {
	e := a.fromCall(call, evidence.ResultFailure)
	e.ErrorMessage = errMessage
	e.ErrorCode = errCode
	return a.Log(ctx, e)
}

// LogRejected records a call refused by admission control.
func (a *AuditLogger) LogRejected(ctx context.Context, call Call, reason string) (*evidence.Entry, error) {
	e := a.fromCall(call, evidence.ResultRejected)
	e.RejectionReason = reason
	return a.Log(ctx, e)
}

func (a *AuditLogger) fromCall(call Call, result evidence.Result) evidence.Entry {
	return evidence.Entry{
		RequestID:  call.RequestID,
		Tool:       call.Tool,
		Arguments:  call.Arguments,
		Result:     result,
		DurationMs: call.Duration.Milliseconds(),
		ClientInfo: call.ClientInfo,
	}
}

// GetRecentLogs returns up to n entries, newest first.
func (a *AuditLogger) GetRecentLogs(n int) []*evidence.Entry {
	if n <= 0 {
		return []*evidence.Entry{}
	}
	return a.collect(n, func(*evidence.Entry) bool { return true })
}

// GetLogsByRequestID returns buffered entries for requestID, newest first.
func (a *AuditLogger) GetLogsByRequestID(requestID string) []*evidence.Entry {
	return a.collect(0, func(e *evidence.Entry) bool { return e.RequestID == requestID })
}

// GetLogsByTransaction returns buffered entries whose transaction hash
// matches txHash, ignoring case, newest first.
func (a *AuditLogger) GetLogsByTransaction(txHash string) []*evidence.Entry {
	return a.collect(0, func(e *evidence.Entry) bool {
		return e.TransactionHash != "" && strings.EqualFold(e.TransactionHash, txHash)
	})
}

// GetLogsByTool returns buffered entries for tool, newest first.
func (a *AuditLogger) GetLogsByTool(tool string) []*evidence.Entry {
	return a.collect(0, func(e *evidence.Entry) bool { return e.Tool == tool })
}

// ClearRecentLogs empties the ring buffer. The hash chain continues.
func (a *AuditLogger) ClearRecentLogs() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.ring {
		a.ring[i] = nil
	}
	a.next = 0
	a.size = 0
}

// IsEnabled reports whether entries are forwarded to the sink.
func (a *AuditLogger) IsEnabled() bool {
	return a.config.Enabled
}

// GetLogPath returns the configured durable log location.
func (a *AuditLogger) GetLogPath() string {
	return a.config.LogPath
}

// LastHash returns the hash of the most recently logged entry.
func (a *AuditLogger) LastHash() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastHash
}

// Close closes the sink. Later entries are kept in memory only. Calling
// Close more than once is safe.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	// Wait for an in-flight write.
	a.sinkMu.Lock()
	defer a.sinkMu.Unlock()

	if a.sink == nil {
		return nil
	}
	if err := a.sink.Close(); err != nil {
		return fmt.Errorf("failed to close audit sink: %w", err)
	}
	a.logger.Info("audit logger closed")
	return nil
}

func (a *AuditLogger) appendLocked(e *evidence.Entry) {
	a.ring[a.next] = e
	a.next = (a.next + 1) % len(a.ring)
	if a.size < len(a.ring) {
		a.size++
	}
}

// collect walks the ring newest first. limit <= 0 means no limit.
func (a *AuditLogger) collect(limit int, keep func(*evidence.Entry) bool) []*evidence.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*evidence.Entry, 0)
	for i := 0; i < a.size; i++ {
		idx := (a.next - 1 - i + len(a.ring)) % len(a.ring)
		e := a.ring[idx]
		if !keep(e) {
			continue
		}
		out = append(out, e.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (a *AuditLogger) write(ctx context.Context, e *evidence.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := a.sink.Write(ctx, e)
	if err == nil {
		a.logger.Debug("audit entry written",
			"entry_id", e.ID,
			"tool", e.Tool,
			"result", e.Result,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	if a.onSinkError != nil {
		a.onSinkError(err)
	}
	if a.errLog.Allow() {
		a.logger.Error("failed to write audit entry",
			"entry_id", e.ID,
			"tool", e.Tool,
			"suppressed", a.suppressed,
			"error", err,
		)
		a.suppressed = 0
	} else {
		a.suppressed++
	}
	return err
}
