package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/evidence"
)

// fakeSink records writes and fails on demand.
type fakeSink struct {
	mu      sync.Mutex
	entries []*evidence.Entry
	fail    error
	closed  int
}

func (s *fakeSink) Write(ctx context.Context, e *evidence.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.entries = append(s.entries, e.Clone())
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSink) Written() []*evidence.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*evidence.Entry(nil), s.entries...)
}

func newTestLogger(capacity int, sink evidence.Sink, opts ...Option) *AuditLogger {
	clock := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return clock })}, opts...)
	return New(Config{Enabled: true, Capacity: capacity, LogPath: "data/audit.jsonl"}, sink, opts...)
}

// =============================================================================
// Log
// =============================================================================

func TestLog_RedactsArguments(t *testing.T) {
	a := newTestLogger(10, nil)

	entry, err := a.Log(context.Background(), evidence.Entry{
		Tool:      "send_payment",
		Result:    evidence.ResultSuccess,
		Arguments: map[string]any{"privateKey": "0xsecret", "amount": "5"},
	})
	if err != nil {
		t.Fatalf("Log() failed: %v", err)
	}

	if entry.Arguments["privateKey"] != Redacted {
		t.Errorf("Expected privateKey redacted, got %v", entry.Arguments["privateKey"])
	}
	if entry.Arguments["amount"] != "5" {
		t.Errorf("Expected amount 5, got %v", entry.Arguments["amount"])
	}
}

func TestLog_AssignsIdentity(t *testing.T) {
	a := newTestLogger(10, nil)

	e1, _ := a.Log(context.Background(), evidence.Entry{Tool: "t", Result: evidence.ResultSuccess})
	e2, _ := a.Log(context.Background(), evidence.Entry{Tool: "t", Result: evidence.ResultSuccess})

	if e1.ID == "" || e1.ID == e2.ID {
		t.Errorf("Expected unique ids, got %q and %q", e1.ID, e2.ID)
	}
	if e1.Timestamp.Location() != time.UTC {
		t.Errorf("Expected UTC timestamp, got %v", e1.Timestamp.Location())
	}
	if e2.PrevHash != e1.Hash {
		t.Error("Expected second entry linked to the first")
	}
}

func TestLog_InvalidResult(t *testing.T) {
	a := newTestLogger(10, nil)

	_, err := a.Log(context.Background(), evidence.Entry{Tool: "t"})
	if !errors.Is(err, ErrInvalidResult) {
		t.Errorf("Expected ErrInvalidResult, got %v", err)
	}
	if len(a.GetRecentLogs(10)) != 0 {
		t.Error("Expected nothing buffered for an invalid entry")
	}
}

func TestLog_CallerMutationDoesNotLeak(t *testing.T) {
	a := newTestLogger(10, nil)
	args := map[string]any{"memo": "hello"}

	entry, _ := a.Log(context.Background(), evidence.Entry{Tool: "t", Result: evidence.ResultSuccess, Arguments: args})
	args["memo"] = "changed"
	entry.Arguments["memo"] = "also changed"

	got := a.GetRecentLogs(1)[0]
	if got.Arguments["memo"] != "hello" {
		t.Errorf("Expected buffered entry unchanged, got %v", got.Arguments["memo"])
	}
}

func TestLog_ForwardsToSink(t *testing.T) {
	sink := &fakeSink{}
	a := newTestLogger(10, sink)

	a.LogRejected(context.Background(), Call{Tool: "send_payment"}, "blocked")

	written := sink.Written()
	if len(written) != 1 {
		t.Fatalf("Expected 1 sink write, got %d", len(written))
	}
	if written[0].RejectionReason != "blocked" {
		t.Errorf("Expected rejection reason, got %q", written[0].RejectionReason)
	}
}

func TestLog_DisabledSkipsSink(t *testing.T) {
	sink := &fakeSink{}
	a := New(Config{Enabled: false, Capacity: 10}, sink)

	if _, err := a.LogSuccess(context.Background(), Call{Tool: "t"}, "0x1", "21000"); err != nil {
		t.Fatal(err)
	}
	if len(sink.Written()) != 0 {
		t.Error("Expected no sink writes when disabled")
	}
	if len(a.GetRecentLogs(10)) != 1 {
		t.Error("Expected entry kept in memory when disabled")
	}
}

func TestLog_SinkFailureKeepsEntry(t *testing.T) {
	sink := &fakeSink{fail: errors.New("disk full")}
	var hooked int
	a := newTestLogger(10, sink, WithOnSinkError(func(error) { hooked++ }))

	entry, err := a.LogFailure(context.Background(), Call{Tool: "t"}, "reverted", "EXECUTION_REVERTED")

	var se *evidence.SinkError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *SinkError, got %v", err)
	}
	if entry == nil || se.EntryID != entry.ID {
		t.Error("Expected stored entry returned with the sink error")
	}
	if len(a.GetRecentLogs(10)) != 1 {
		t.Error("Expected entry kept in ring buffer")
	}
	if hooked != 1 {
		t.Errorf("Expected sink error hook called once, got %d", hooked)
	}
}

// =============================================================================
// Convenience wrappers
// =============================================================================

func TestConvenienceWrappers(t *testing.T) {
	a := newTestLogger(10, nil)
	ctx := context.Background()
	call := Call{RequestID: "req-1", Tool: "send_payment", Duration: 1500 * time.Millisecond,
		ClientInfo: &evidence.ClientInfo{Name: "agent", Version: "1.2"}}

	s, _ := a.LogSuccess(ctx, call, "0xABC", "21000")
	if s.Result != evidence.ResultSuccess || s.TransactionHash != "0xABC" || s.GasCost != "21000" {
		t.Errorf("Unexpected success entry %+v", s)
	}
	if s.DurationMs != 1500 {
		t.Errorf("Expected duration 1500ms, got %d", s.DurationMs)
	}
	if s.ClientInfo == nil || s.ClientInfo.Name != "agent" {
		t.Error("Expected client info carried")
	}

	f, _ := a.LogFailure(ctx, call, "nonce too low", "NONCE")
	if f.Result != evidence.ResultFailure || f.ErrorMessage != "nonce too low" || f.ErrorCode != "NONCE" {
		t.Errorf("Unexpected failure entry %+v", f)
	}

	r, _ := a.LogRejected(ctx, call, "daily limit")
	if r.Result != evidence.ResultRejected || r.RejectionReason != "daily limit" {
		t.Errorf("Unexpected rejected entry %+v", r)
	}
}

// =============================================================================
// Ring buffer and queries
// =============================================================================

func TestGetRecentLogs_RingBuffer(t *testing.T) {
	a := newTestLogger(3, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a.LogSuccess(ctx, Call{RequestID: fmt.Sprintf("req-%d", i), Tool: "t"}, "", "")
	}

	recent := a.GetRecentLogs(10)
	if len(recent) != 3 {
		t.Fatalf("Expected 3 entries (capacity), got %d", len(recent))
	}
	want := []string{"req-4", "req-3", "req-2"}
	for i, e := range recent {
		if e.RequestID != want[i] {
			t.Errorf("Entry %d: expected %s, got %s", i, want[i], e.RequestID)
		}
	}

	if got := a.GetRecentLogs(2); len(got) != 2 || got[0].RequestID != "req-4" {
		t.Errorf("Expected 2 newest entries, got %d", len(got))
	}
	if got := a.GetRecentLogs(0); len(got) != 0 {
		t.Errorf("Expected no entries for n=0, got %d", len(got))
	}
}

func TestQueries(t *testing.T) {
	a := newTestLogger(10, nil)
	ctx := context.Background()

	a.LogSuccess(ctx, Call{RequestID: "r1", Tool: "send_payment"}, "0xAbCd", "1")
	a.LogRejected(ctx, Call{RequestID: "r2", Tool: "swap"}, "rate limited")
	a.LogFailure(ctx, Call{RequestID: "r1", Tool: "send_payment"}, "boom", "")

	byReq := a.GetLogsByRequestID("r1")
	if len(byReq) != 2 || byReq[0].Result != evidence.ResultFailure {
		t.Errorf("Expected 2 entries for r1 newest first, got %d", len(byReq))
	}

	byTx := a.GetLogsByTransaction("0xabcd")
	if len(byTx) != 1 || byTx[0].RequestID != "r1" {
		t.Errorf("Expected case-insensitive transaction match, got %d", len(byTx))
	}
	if len(a.GetLogsByTransaction("")) != 0 {
		t.Error("Expected empty hash to match nothing")
	}

	byTool := a.GetLogsByTool("swap")
	if len(byTool) != 1 || byTool[0].RequestID != "r2" {
		t.Errorf("Expected 1 swap entry, got %d", len(byTool))
	}
}

func TestClearRecentLogs(t *testing.T) {
	a := newTestLogger(10, nil)
	ctx := context.Background()

	first, _ := a.LogSuccess(ctx, Call{Tool: "t"}, "", "")
	a.ClearRecentLogs()

	if len(a.GetRecentLogs(10)) != 0 {
		t.Error("Expected empty buffer after clear")
	}

	next, _ := a.LogSuccess(ctx, Call{Tool: "t"}, "", "")
	if next.PrevHash != first.Hash {
		t.Error("Expected hash chain to continue across clear")
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestAccessorsAndClose(t *testing.T) {
	sink := &fakeSink{}
	a := newTestLogger(10, sink)

	if !a.IsEnabled() {
		t.Error("Expected enabled")
	}
	if a.GetLogPath() != "data/audit.jsonl" {
		t.Errorf("Unexpected log path %q", a.GetLogPath())
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if sink.closed != 1 {
		t.Errorf("Expected sink closed once, got %d", sink.closed)
	}

	if _, err := a.LogSuccess(context.Background(), Call{Tool: "t"}, "", ""); err != nil {
		t.Errorf("Expected logging after close to succeed in memory, got %v", err)
	}
	if len(sink.Written()) != 0 {
		t.Error("Expected no sink writes after close")
	}
}

func TestWithChainHead(t *testing.T) {
	a := newTestLogger(10, nil, WithChainHead("abc123"))

	e, _ := a.LogSuccess(context.Background(), Call{Tool: "t"}, "", "")
	if e.PrevHash != "abc123" {
		t.Errorf("Expected seeded prev hash, got %q", e.PrevHash)
	}
	if a.LastHash() != e.Hash {
		t.Error("Expected LastHash to track newest entry")
	}
}

func TestConcurrentLogging_ChainOrder(t *testing.T) {
	sink := &fakeSink{}
	a := New(Config{Enabled: true, Capacity: 500}, sink)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				a.LogSuccess(context.Background(), Call{Tool: "t"}, "", "")
			}
		}()
	}
	wg.Wait()

	written := sink.Written()
	if len(written) != 200 {
		t.Fatalf("Expected 200 writes, got %d", len(written))
	}
	if err := VerifyChain(written); err != nil {
		t.Errorf("Expected sink order to match chain order: %v", err)
	}
}
