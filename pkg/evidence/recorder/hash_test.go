package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"mercator-hq/gatekeeper/pkg/evidence"
)

func TestHashContent(t *testing.T) {
	if HashContent(nil) != "" {
		t.Error("Expected empty hash for empty content")
	}
	// SHA-256 of "abc".
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashContent([]byte("abc")); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func loggedChain(t *testing.T, n int) []*evidence.Entry {
	t.Helper()
	a := newTestLogger(n, nil)
	for i := 0; i < n; i++ {
		if _, err := a.LogSuccess(context.Background(), Call{
			Tool:      "send_payment",
			Arguments: map[string]any{"amount": float64(i), "to": "0xabc"},
		}, "", ""); err != nil {
			t.Fatal(err)
		}
	}
	recent := a.GetRecentLogs(n)
	// Oldest first.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent
}

func TestVerifyChain_Valid(t *testing.T) {
	if err := VerifyChain(loggedChain(t, 5)); err != nil {
		t.Errorf("Expected valid chain, got %v", err)
	}
	if err := VerifyChain(nil); err != nil {
		t.Errorf("Expected empty chain valid, got %v", err)
	}
}

func TestVerifyChain_SurvivesJSONRoundTrip(t *testing.T) {
	entries := loggedChain(t, 3)

	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	var decoded []*evidence.Entry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if err := VerifyChain(decoded); err != nil {
		t.Errorf("Expected chain to verify after round trip, got %v", err)
	}
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]*evidence.Entry) []*evidence.Entry
		index  int
	}{
		{
			name: "edited argument",
			mutate: func(es []*evidence.Entry) []*evidence.Entry {
				es[2].Arguments["to"] = "0xattacker"
				return es
			},
			index: 2,
		},
		{
			name: "deleted entry",
			mutate: func(es []*evidence.Entry) []*evidence.Entry {
				return append(es[:1], es[2:]...)
			},
			index: 1,
		},
		{
			name: "swapped entries",
			mutate: func(es []*evidence.Entry) []*evidence.Entry {
				es[3], es[4] = es[4], es[3]
				return es
			},
			index: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := tt.mutate(loggedChain(t, 5))

			err := VerifyChain(entries)
			var ce *ChainError
			if !errors.As(err, &ce) {
				t.Fatalf("Expected *ChainError, got %v", err)
			}
			if ce.Index != tt.index {
				t.Errorf("Expected break at index %d, got %d", tt.index, ce.Index)
			}
		})
	}
}

func TestVerifyChainProgress(t *testing.T) {
	entries := loggedChain(t, 4)

	var calls []int
	if err := VerifyChainProgress(entries, func(done int) { calls = append(calls, done) }); err != nil {
		t.Fatalf("Expected valid chain, got %v", err)
	}
	if len(calls) != 4 || calls[3] != 4 {
		t.Errorf("Expected progress 1..4, got %v", calls)
	}

	entries[1].Tool = "drain_wallet"
	calls = nil
	if err := VerifyChainProgress(entries, func(done int) { calls = append(calls, done) }); err == nil {
		t.Fatal("Expected tampered chain to fail")
	}
	if len(calls) != 1 {
		t.Errorf("Expected progress to stop before the broken entry, got %v", calls)
	}
}
