package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"mercator-hq/gatekeeper/pkg/evidence"
)

// BreakerConfig configures BreakerSink.
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker.
	// Default: 5
	MaxFailures uint32

	// OpenTimeout is how long the breaker stays open before letting a
	// probe write through.
	// Default: 30 seconds
	OpenTimeout time.Duration

	// OnStateChange is called on every transition, e.g. to export metrics.
	OnStateChange func(from, to string)
}

// BreakerSink protects an admission path from a slow or broken sink. After
// MaxFailures consecutive write failures it rejects writes immediately with
// gobreaker.ErrOpenState until OpenTimeout has passed.
type BreakerSink struct {
	next evidence.Sink
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerSink wraps next with a circuit breaker.
func NewBreakerSink(next evidence.Sink, cfg BreakerConfig) *BreakerSink {
	if cfg.Name == "" {
		cfg.Name = "audit-sink"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	logger := slog.Default().With("component", "evidence.storage.breaker")
	maxFailures := cfg.MaxFailures
	onChange := cfg.OnStateChange

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("audit sink breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if onChange != nil {
				onChange(from.String(), to.String())
			}
		},
	})

	return &BreakerSink{next: next, cb: cb}
}

// Write forwards to the wrapped sink unless the breaker is open.
func (s *BreakerSink) Write(ctx context.Context, entry *evidence.Entry) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Write(ctx, entry)
	})
	return err
}

// State returns "closed", "half-open", or "open".
func (s *BreakerSink) State() string {
	return s.cb.State().String()
}

// Close closes the wrapped sink.
func (s *BreakerSink) Close() error {
	return s.next.Close()
}
