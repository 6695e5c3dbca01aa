package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/admission"
	"mercator-hq/gatekeeper/pkg/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testSource(mutate func(*config.RateLimitsConfig)) config.Source {
	cfg := config.Default()
	cfg.Security.RateLimits = config.RateLimitsConfig{
		ToolCalls:    config.RateWindow{Window: time.Minute, MaxCalls: 5},
		HighRiskOps:  config.RateWindow{Window: time.Hour, MaxCalls: 3},
		PerRecipient: config.RateWindow{Window: 24 * time.Hour, MaxCalls: 10},
	}
	if mutate != nil {
		mutate(&cfg.Security.RateLimits)
	}
	return config.Static(cfg)
}

func newTestLimiter(opts ...Option) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(testSource(nil), opts...), clock
}

// ============================================================================
// Check / RecordRequest
// ============================================================================

func TestCheck_EmptyKey(t *testing.T) {
	l, _ := newTestLimiter()

	res, err := l.Check(ToolCalls, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || res.CurrentCount != 0 || res.MaxCount != 5 {
		t.Errorf("Expected allowed 0/5, got %+v", res)
	}
	if l.Keys() != 0 {
		t.Errorf("Expected Check not to create keys, got %d", l.Keys())
	}
}

func TestPerRecipient_TenCallsThenBlocked(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 10; i++ {
		if err := l.RecordRequest(PerRecipient, "0xabc"); err != nil {
			t.Fatal(err)
		}
	}

	res, err := l.Check(PerRecipient, "0xABC")
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Error("Expected per-recipient check to be blocked after 10 calls")
	}
	if res.CurrentCount != 10 {
		t.Errorf("Expected count 10, got %d", res.CurrentCount)
	}
	if res.RetryAfter <= 0 {
		t.Errorf("Expected positive retry-after, got %v", res.RetryAfter)
	}
	if res.ResetInSeconds != 86400 {
		t.Errorf("Expected reset in 86400s, got %d", res.ResetInSeconds)
	}
}

func TestCheck_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 5; i++ {
		l.RecordRequest(ToolCalls, "")
		clock.Advance(10 * time.Second)
	}
	// Entries at t=0,10,20,30,40; now t=50.
	res, _ := l.Check(ToolCalls, "")
	if res.Allowed {
		t.Fatal("Expected blocked at 5/5")
	}
	if res.RetryAfter != 10*time.Second {
		t.Errorf("Expected retry after 10s, got %v", res.RetryAfter)
	}

	clock.Advance(10 * time.Second)
	res, _ = l.Check(ToolCalls, "")
	if !res.Allowed || res.CurrentCount != 4 {
		t.Errorf("Expected allowed 4/5 after oldest expired, got %+v", res)
	}
}

func TestRecordRequest_CapsTimestamps(t *testing.T) {
	l, _ := newTestLimiter(WithMaxTimestamps(20), WithCleanupThreshold(1000))

	for i := 0; i < 50; i++ {
		l.RecordRequest(PerRecipient, "0x1")
	}

	st, err := l.GetStats(PerRecipient, "0x1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Stored != 20 {
		t.Errorf("Expected 20 stored timestamps, got %d", st.Stored)
	}
}

func TestRecordRequest_CapNeverHidesWindowLimit(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	src := testSource(func(c *config.RateLimitsConfig) {
		c.ToolCalls = config.RateWindow{Window: time.Hour, MaxCalls: 30}
	})
	l := New(src, WithClock(clock.Now), WithMaxTimestamps(10), WithCleanupThreshold(1000))

	for i := 0; i < 30; i++ {
		if err := l.RecordRequest(ToolCalls, ""); err != nil {
			t.Fatal(err)
		}
	}

	res, err := l.Check(ToolCalls, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Errorf("Expected blocked at 30/30, got %+v", res)
	}
	if res.CurrentCount != 30 {
		t.Errorf("Expected count 30, got %d", res.CurrentCount)
	}
}

func TestPerRecipient_AddressFormsShareWindow(t *testing.T) {
	l, _ := newTestLimiter()
	const bare = "1111111111111111111111111111111111111111"

	for i := 0; i < 10; i++ {
		if err := l.RecordRequest(PerRecipient, "0x"+bare); err != nil {
			t.Fatal(err)
		}
	}

	tests := []string{bare, "0X" + bare, " 0x" + bare + " "}
	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			res, err := l.Check(PerRecipient, key)
			if err != nil {
				t.Fatal(err)
			}
			if res.Allowed || res.CurrentCount != 10 {
				t.Errorf("Expected blocked 10/10 for %q, got %+v", key, res)
			}
		})
	}
	if l.Keys() != 1 {
		t.Errorf("Expected 1 key, got %d", l.Keys())
	}
}

func TestResolve_Errors(t *testing.T) {
	l, _ := newTestLimiter()

	if _, err := l.Check("bogus", ""); admission.CodeOf(err) != admission.CodeInvalidCategory {
		t.Errorf("Expected invalid category, got %v", err)
	}
	if err := l.RecordRequest(PerRecipient, " "); admission.CodeOf(err) != admission.CodeInvalidAddress {
		t.Errorf("Expected invalid address, got %v", err)
	}

	failing := New(config.SourceFunc(func() (*config.Config, error) {
		return nil, errors.New("provider down")
	}))
	if _, err := failing.Check(ToolCalls, ""); !errors.Is(err, admission.ErrInternal) {
		t.Errorf("Expected ErrInternal, got %v", err)
	}
}

// ============================================================================
// CheckAndRecordAtomic
// ============================================================================

func TestCheckAndRecordAtomic_NeverExceedsLimit(t *testing.T) {
	l, _ := newTestLimiter()

	var allowed int
	for i := 0; i < 6; i++ {
		if _, err := l.CheckAndRecordAtomic(ToolCalls, ""); err == nil {
			allowed++
		} else {
			var ae *admission.Error
			if !errors.As(err, &ae) || ae.Code != admission.CodeRateLimited {
				t.Fatalf("Expected RATE_LIMITED, got %v", err)
			}
			if ae.RetryAfter != time.Minute {
				t.Errorf("Expected retry after 1m, got %v", ae.RetryAfter)
			}
		}
	}

	if allowed != 5 {
		t.Errorf("Expected 5 allowed, got %d", allowed)
	}
	res, _ := l.Check(ToolCalls, "")
	if res.CurrentCount != 5 {
		t.Errorf("Expected 5 counted calls, got %d", res.CurrentCount)
	}
}

func TestCheckAndRecordAtomic_MaxCallsAboveTimestampCap(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	src := testSource(func(c *config.RateLimitsConfig) {
		c.ToolCalls = config.RateWindow{Window: time.Hour, MaxCalls: 1500}
	})
	l := New(src, WithClock(clock.Now))

	admitted := 0
	for i := 0; i < 3000; i++ {
		if _, err := l.CheckAndRecordAtomic(ToolCalls, ""); err == nil {
			admitted++
		} else if !errors.Is(err, admission.ErrLimitExceeded) {
			t.Fatalf("Expected limit exceeded, got %v", err)
		}
	}
	if admitted != 1500 {
		t.Errorf("Expected 1500 admitted calls, got %d", admitted)
	}
}

func TestCheckAndRecordAtomic_Concurrent(t *testing.T) {
	l, _ := newTestLimiter()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.CheckAndRecordAtomic(HighRiskOps, ""); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 3 {
		t.Errorf("Expected exactly 3 reservations, got %d", allowed)
	}
}

func TestCheckAndRecordAtomic_Release(t *testing.T) {
	l, _ := newTestLimiter()

	var reservations []*admission.Reservation
	for i := 0; i < 3; i++ {
		res, err := l.CheckAndRecordAtomic(HighRiskOps, "")
		if err != nil {
			t.Fatal(err)
		}
		reservations = append(reservations, res)
	}
	if _, err := l.CheckAndRecordAtomic(HighRiskOps, ""); err == nil {
		t.Fatal("Expected fourth reservation to fail")
	}

	reservations[1].Release()
	reservations[1].Release()

	res, _ := l.Check(HighRiskOps, "")
	if res.CurrentCount != 2 {
		t.Errorf("Expected 2 calls after single release, got %d", res.CurrentCount)
	}
	if _, err := l.CheckAndRecordAtomic(HighRiskOps, ""); err != nil {
		t.Errorf("Expected reservation after release to succeed, got %v", err)
	}
}

// ============================================================================
// Reset
// ============================================================================

func TestReset_Variants(t *testing.T) {
	l, _ := newTestLimiter()

	seed := func() {
		l.RecordRequest(ToolCalls, "")
		l.RecordRequest(PerRecipient, "0xa")
		l.RecordRequest(PerRecipient, "0xb")
	}

	seed()
	l.Reset(PerRecipient, "0xA")
	if l.Keys() != 2 {
		t.Errorf("Expected 2 keys after single reset, got %d", l.Keys())
	}

	l.ResetCategory(PerRecipient)
	if l.Keys() != 1 {
		t.Errorf("Expected 1 key after category reset, got %d", l.Keys())
	}

	seed()
	l.ResetAll()
	if l.Keys() != 0 {
		t.Errorf("Expected 0 keys after reset all, got %d", l.Keys())
	}
}

// ============================================================================
// Garbage collection
// ============================================================================

func TestSweep_DeletesExpiredKeysUnderReadTraffic(t *testing.T) {
	l, clock := newTestLimiter(WithCleanupThreshold(10))

	for i := 0; i < 5; i++ {
		l.RecordRequest(PerRecipient, fmt.Sprintf("0x%d", i))
	}
	if l.Keys() != 5 {
		t.Fatalf("Expected 5 keys, got %d", l.Keys())
	}

	// Past the longest configured window.
	clock.Advance(25 * time.Hour)
	for i := 0; i < 5; i++ {
		l.Check(ToolCalls, "")
	}

	if l.Keys() != 0 {
		t.Errorf("Expected sweep to delete expired keys, got %d", l.Keys())
	}
	if l.Sweeps() != 1 {
		t.Errorf("Expected 1 sweep, got %d", l.Sweeps())
	}
}

func TestSweep_KeepsLiveKeys(t *testing.T) {
	l, clock := newTestLimiter(WithCleanupThreshold(2))

	l.RecordRequest(ToolCalls, "")
	clock.Advance(2 * time.Minute)
	// The tool-call entry is outside its own window but inside the longest
	// (24h), so the sweep keeps it.
	l.Check(ToolCalls, "")

	st, _ := l.GetStats(ToolCalls, "")
	if st.Stored != 1 || st.CurrentCount != 0 {
		t.Errorf("Expected 1 stored/0 in window, got %d/%d", st.Stored, st.CurrentCount)
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
		err  bool
	}{
		{"toolCalls", ToolCalls, false},
		{"high_risk_ops", HighRiskOps, false},
		{"perRecipient", PerRecipient, false},
		{"other", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, %v", tt.in, got, err)
		}
	}
}
