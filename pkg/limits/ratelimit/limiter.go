package ratelimit

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/admission"
	"mercator-hq/gatekeeper/pkg/allowlist"
	"mercator-hq/gatekeeper/pkg/config"
)

const (
	// DefaultMaxTimestamps caps the stored calls per key. A key whose window
	// allows more calls keeps max_calls+1 instead.
	DefaultMaxTimestamps = 1000

	// DefaultCleanupThreshold is the number of operations between full sweeps.
	DefaultCleanupThreshold = 100
)

// Limiter is a sliding-window limiter over the configured categories.
// It is safe for concurrent use.
type Limiter struct {
	src              config.Source
	now              admission.Clock
	logger           *slog.Logger
	maxTimestamps    int
	cleanupThreshold int

	mu     sync.Mutex
	keys   map[string]*sequence
	ops    int
	seq    uint64
	sweeps uint64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock used to timestamp calls.
func WithClock(clock admission.Clock) Option {
	return func(l *Limiter) {
		l.now = clock
	}
}

// WithMaxTimestamps sets the per-key cap on stored calls.
func WithMaxTimestamps(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxTimestamps = n
		}
	}
}

// WithCleanupThreshold sets the number of operations between full sweeps.
func WithCleanupThreshold(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.cleanupThreshold = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a limiter reading windows from src.
func New(src config.Source, opts ...Option) *Limiter {
	l := &Limiter{
		src:              src,
		now:              admission.SystemClock,
		logger:           slog.Default(),
		maxTimestamps:    DefaultMaxTimestamps,
		cleanupThreshold: DefaultCleanupThreshold,
		keys:             make(map[string]*sequence),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "limits.ratelimit")
	return l
}

// Check reports whether one more call for (cat, key) fits in the window.
// It does not record anything.
func (l *Limiter) Check(cat Category, key string) (Result, error) {
	rl, cfg, err := l.resolve(cat, key)
	if err != nil {
		return Result{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	res := l.evaluateLocked(rl, cfg, now)
	l.tickLocked(cfg.all, now)
	return res, nil
}

// RecordRequest records a call for (cat, key) unconditionally.
func (l *Limiter) RecordRequest(cat Category, key string) error {
	rl, cfg, err := l.resolve(cat, key)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s := l.sequenceLocked(rl, cat)
	l.appendLocked(s, now, cfg.window)
	s.trim(now.Add(-cfg.window.Window))
	l.tickLocked(cfg.all, now)
	return nil
}

// CheckAndRecordAtomic records a call for (cat, key) and keeps it only if
// the in-window count including it does not exceed max_calls. On success the
// returned reservation removes exactly this call when released.
func (l *Limiter) CheckAndRecordAtomic(cat Category, key string) (*admission.Reservation, error) {
	rl, cfg, err := l.resolve(cat, key)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s := l.sequenceLocked(rl, cat)
	e := l.appendLocked(s, now, cfg.window)

	count, oldest := s.countSince(now.Add(-cfg.window.Window))
	if count > cfg.window.MaxCalls {
		s.remove(e.seq)
		if len(s.entries) == 0 {
			delete(l.keys, rl)
		}
		l.tickLocked(cfg.all, now)

		retry := oldest.Add(cfg.window.Window).Sub(now)
		l.logger.Debug("rate limit reservation rejected",
			"category", cat,
			"key", rl,
			"count", count-1,
			"max", cfg.window.MaxCalls,
		)
		return nil, admission.RateLimited(
			fmt.Sprintf("rate limit exceeded for %s: %d calls per %s", cat, cfg.window.MaxCalls, cfg.window.Window),
			retry,
		)
	}
	l.tickLocked(cfg.all, now)

	return admission.NewReservation(rl, "1", now, func() {
		l.release(rl, e.seq)
	}), nil
}

// GetStats describes the stored state of (cat, key).
func (l *Limiter) GetStats(cat Category, key string) (Stats, error) {
	rl, cfg, err := l.resolve(cat, key)
	if err != nil {
		return Stats{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := Stats{
		Category: cat,
		Key:      normalizeKey(cat, key),
		MaxCount: cfg.window.MaxCalls,
		Window:   cfg.window.Window,
	}
	if s, ok := l.keys[rl]; ok && len(s.entries) > 0 {
		st.CurrentCount, _ = s.countSince(now.Add(-cfg.window.Window))
		st.Stored = len(s.entries)
		st.Oldest = s.entries[0].at
		st.Newest = s.entries[len(s.entries)-1].at
	}
	return st, nil
}

// Reset clears the calls stored for one (cat, key).
func (l *Limiter) Reset(cat Category, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, compositeKey(cat, key))
}

// ResetCategory clears every key of cat.
func (l *Limiter) ResetCategory(cat Category) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, s := range l.keys {
		if s.category == cat {
			delete(l.keys, k)
		}
	}
}

// ResetAll clears all stored calls.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = make(map[string]*sequence)
	l.ops = 0
}

// Keys returns the number of composite keys currently stored.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Sweeps returns the number of full cleanup sweeps run so far.
func (l *Limiter) Sweeps() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweeps
}

// resolved is the configuration needed for one operation.
type resolved struct {
	window config.RateWindow
	all    *config.RateLimitsConfig
}

func (l *Limiter) resolve(cat Category, key string) (string, resolved, error) {
	cfg, err := l.src.Snapshot()
	if err != nil {
		return "", resolved{}, admission.Internal(admission.CodeConfigUnavailable, "rate limits unavailable", err)
	}
	w, ok := cat.window(&cfg.Security.RateLimits)
	if !ok {
		return "", resolved{}, admission.Malformed(admission.CodeInvalidCategory, "unknown rate limit category %q", cat)
	}
	if cat == PerRecipient && normalizeKey(cat, key) == "" {
		return "", resolved{}, admission.Malformed(admission.CodeInvalidAddress, "recipient is required for %s", cat)
	}
	if w.Window <= 0 || w.MaxCalls < 1 {
		return "", resolved{}, admission.Internal(admission.CodeConfigUnavailable,
			fmt.Sprintf("invalid %s window", cat), nil)
	}
	return compositeKey(cat, key), resolved{window: w, all: &cfg.Security.RateLimits}, nil
}

func (l *Limiter) evaluateLocked(key string, cfg resolved, now time.Time) Result {
	res := Result{MaxCount: cfg.window.MaxCalls, Allowed: true}

	s, ok := l.keys[key]
	if !ok {
		return res
	}

	count, oldest := s.countSince(now.Add(-cfg.window.Window))
	res.CurrentCount = count
	if count == 0 {
		return res
	}

	reset := oldest.Add(cfg.window.Window).Sub(now)
	res.ResetInSeconds = int(math.Ceil(reset.Seconds()))
	if count >= cfg.window.MaxCalls {
		res.Allowed = false
		res.RetryAfter = reset
	}
	return res
}

func (l *Limiter) sequenceLocked(key string, cat Category) *sequence {
	s, ok := l.keys[key]
	if !ok {
		s = &sequence{category: cat}
		l.keys[key] = s
	}
	return s
}

func (l *Limiter) appendLocked(s *sequence, now time.Time, w config.RateWindow) entry {
	l.seq++
	e := entry{at: now, seq: l.seq}
	s.entries = append(s.entries, e)
	s.capAt(max(l.maxTimestamps, w.MaxCalls+1))
	return e
}

func (l *Limiter) release(key string, seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.keys[key]
	if !ok {
		return
	}
	if s.remove(seq) {
		l.logger.Debug("rate limit reservation released", "key", key)
	}
	if len(s.entries) == 0 {
		delete(l.keys, key)
	}
}

// tickLocked counts an operation and runs a full sweep when the threshold
// is reached.
func (l *Limiter) tickLocked(cfg *config.RateLimitsConfig, now time.Time) {
	l.ops++
	if l.ops < l.cleanupThreshold {
		return
	}
	l.ops = 0
	l.sweeps++

	longest := longestWindow(cfg)
	cutoff := now.Add(-longest)
	before := len(l.keys)
	for k, s := range l.keys {
		s.trim(cutoff)
		if len(s.entries) == 0 {
			delete(l.keys, k)
		}
	}
	l.logger.Debug("rate limit sweep", "keys_before", before, "keys_after", len(l.keys))
}

func longestWindow(cfg *config.RateLimitsConfig) time.Duration {
	var longest time.Duration
	for _, cat := range Categories {
		if w, _ := cat.window(cfg); w.Window > longest {
			longest = w.Window
		}
	}
	return longest
}

// normalizeKey maps equivalent keys to one bucket. Recipient keys use the
// allowlist's address form so 0x-prefixed and bare hex share a window.
func normalizeKey(cat Category, key string) string {
	if cat == PerRecipient {
		return allowlist.Normalize(key)
	}
	return strings.ToLower(strings.TrimSpace(key))
}

func compositeKey(cat Category, key string) string {
	if k := normalizeKey(cat, key); k != "" {
		return string(cat) + ":" + k
	}
	return string(cat)
}
