package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
)

// =============================================================================
// Checker
// =============================================================================

func TestReadiness_NoChecks(t *testing.T) {
	c := New(0)
	if s := c.Readiness(context.Background()); s.Status != StatusReady {
		t.Errorf("Expected ready, got %s", s.Status)
	}
}

func TestReadiness_Degraded(t *testing.T) {
	c := New(time.Second)
	c.Register("ok", func(ctx context.Context) error { return nil })
	c.Register("bad", func(ctx context.Context) error { return errors.New("disk full") })

	s := c.Readiness(context.Background())
	if s.Status != StatusDegraded {
		t.Fatalf("Expected degraded, got %s", s.Status)
	}
	if s.Checks["ok"].Status != StatusOK {
		t.Errorf("Expected ok check, got %+v", s.Checks["ok"])
	}
	if s.Checks["bad"].Status != StatusUnhealthy || s.Checks["bad"].Message != "disk full" {
		t.Errorf("Unexpected bad check %+v", s.Checks["bad"])
	}
}

func TestReadiness_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	block := make(chan struct{})
	defer close(block)
	c.Register("slow", func(ctx context.Context) error {
		<-block
		return nil
	})

	s := c.Readiness(context.Background())
	if s.Checks["slow"].Message != ErrCheckTimeout.Error() {
		t.Errorf("Expected timeout, got %+v", s.Checks["slow"])
	}
}

func TestRegister_Replaces(t *testing.T) {
	c := New(0)
	c.Register("b", func(ctx context.Context) error { return errors.New("x") })
	c.Register("a", func(ctx context.Context) error { return nil })
	c.Register("b", func(ctx context.Context) error { return nil })

	names := c.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Unexpected names %v", names)
	}
	if s := c.Readiness(context.Background()); s.Status != StatusReady {
		t.Errorf("Expected replaced check to pass, got %s", s.Status)
	}
}

// =============================================================================
// Built-in checks
// =============================================================================

func TestConfigCheck(t *testing.T) {
	ok := ConfigCheck(config.Static(config.Default()))
	if err := ok(context.Background()); err != nil {
		t.Errorf("Expected healthy config, got %v", err)
	}

	failing := ConfigCheck(config.SourceFunc(func() (*config.Config, error) {
		return nil, errors.New("unreadable")
	}))
	if err := failing(context.Background()); err == nil {
		t.Error("Expected error")
	}
}

func TestBreakerCheck(t *testing.T) {
	tests := []struct {
		state   string
		wantErr bool
	}{
		{"closed", false},
		{"half-open", false},
		{"open", true},
	}

	for _, tt := range tests {
		err := BreakerCheck(func() string { return tt.state })(context.Background())
		if (err != nil) != tt.wantErr {
			t.Errorf("state %s: expected error=%v, got %v", tt.state, tt.wantErr, err)
		}
	}
}

// =============================================================================
// Handlers
// =============================================================================

func TestReadinessHandler(t *testing.T) {
	c := New(time.Second)
	c.Register("sink", func(ctx context.Context) error { return errors.New("open") })

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
	var s Status
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Checks["sink"].Status != StatusUnhealthy {
		t.Errorf("Unexpected body %+v", s)
	}
}

func TestLivenessHandler_Head(t *testing.T) {
	rec := httptest.NewRecorder()
	New(0).LivenessHandler()(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))

	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("Expected empty 200, got %d with %d bytes", rec.Code, rec.Body.Len())
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler("1.2.3", "abc")(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	json.NewDecoder(rec.Body).Decode(&info)
	if info.Version != "1.2.3" || info.Commit != "abc" || info.GoVersion == "" {
		t.Errorf("Unexpected version info %+v", info)
	}
}
