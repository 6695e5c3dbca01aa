package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/admission"
	"mercator-hq/gatekeeper/pkg/allowlist"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/evidence"
	"mercator-hq/gatekeeper/pkg/evidence/recorder"
	"mercator-hq/gatekeeper/pkg/limits"
	"mercator-hq/gatekeeper/pkg/limits/ratelimit"
	"mercator-hq/gatekeeper/pkg/limits/spending"
	"mercator-hq/gatekeeper/pkg/security"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
)

const (
	blocked = "0x000000000000000000000000000000000000dEaD"
	alice   = "0x1111111111111111111111111111111111111111"
)

var noon = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	layer   *security.Layer
	health  *health.Checker
	handler http.Handler
	reg     *prometheus.Registry
}

func newTestEnv(t *testing.T, authToken string) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Security.SpendingLimits = config.SpendingLimitsConfig{
		MaxSinglePayment: map[string]string{"*": "100"},
		DailyLimit:       map[string]string{"*": "100"},
		MaxBatchSize:     5,
	}
	cfg.Security.AddressAllowlist = config.AddressAllowlistConfig{
		Enabled:   true,
		Mode:      config.ModeBlocklist,
		Addresses: []string{blocked},
		Labels:    map[string]string{blocked: "Sanctioned"},
	}
	cfg.Security.RateLimits = config.RateLimitsConfig{
		ToolCalls:    config.RateWindow{Window: time.Minute, MaxCalls: 10},
		HighRiskOps:  config.RateWindow{Window: time.Hour, MaxCalls: 10},
		PerRecipient: config.RateWindow{Window: 24 * time.Hour, MaxCalls: 2},
	}
	cfg.Server.AuthToken = authToken

	src := config.Static(cfg)
	clock := func() time.Time { return noon }
	reg := prometheus.NewRegistry()

	layer, err := security.New(security.Deps{
		Spending:  spending.New(src, spending.WithClock(clock), spending.WithLocation(time.UTC)),
		Rates:     ratelimit.New(src, ratelimit.WithClock(clock)),
		Allowlist: allowlist.New(src, allowlist.WithClock(clock)),
		Audit:     recorder.New(recorder.Config{Enabled: true, Capacity: 10}, nil, recorder.WithClock(clock)),
		Metrics:   limits.NewMetrics(reg),
	})
	if err != nil {
		t.Fatalf("security.New() failed: %v", err)
	}

	checker := health.New(time.Second)
	srv, err := New(cfg.Server, Deps{
		Layer:    layer,
		Health:   checker,
		Gatherer: reg,
		Version:  "1.2.3",
		Commit:   "abc123",
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	return &testEnv{layer: layer, health: checker, handler: srv.Handler(), reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RequiresLayer(t *testing.T) {
	if _, err := New(config.Default().Server, Deps{}); err == nil {
		t.Error("Expected error for missing security layer")
	}
}

// =============================================================================
// Health, Version, and Metrics
// =============================================================================

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	status := decode[health.Status](t, rec)
	if status.Status != health.StatusOK {
		t.Errorf("Expected status %q, got %q", health.StatusOK, status.Status)
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, "")

	if rec := env.do(t, http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 with no checks, got %d", rec.Code)
	}

	env.health.Register("audit_sink", func(context.Context) error { return errors.New("sink down") })
	rec := env.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", rec.Code)
	}
	status := decode[health.Status](t, rec)
	if status.Checks["audit_sink"].Message != "sink down" {
		t.Errorf("Expected check message 'sink down', got %q", status.Checks["audit_sink"].Message)
	}
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/version", "", nil)
	info := decode[health.VersionInfo](t, rec)
	if info.Version != "1.2.3" || info.Commit != "abc123" {
		t.Errorf("Expected version 1.2.3 (abc123), got %s (%s)", info.Version, info.Commit)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, "")

	env.do(t, http.MethodPost, "/v1/payments/check", `{"token":"USDC","amount":"5","recipient":"`+alice+`"}`, nil)

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gatekeeper_admission_decisions_total") {
		t.Errorf("Expected decision counter in exposition, got:\n%s", rec.Body.String())
	}
}

// =============================================================================
// Payment Check
// =============================================================================

func TestPaymentCheck(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantAllowed bool
		wantStage   string
		wantCode    string
		wantLabel   string
	}{
		{
			name:        "allowed",
			body:        `{"token":"USDC","amount":"5","recipient":"` + alice + `"}`,
			wantAllowed: true,
		},
		{
			name:     "over per-transaction limit",
			body:      `{"token":"USDC","amount":"150","recipient":"` + alice + `"}`,
			wantStage: security.StageSpending,
			wantCode:  admission.CodePerTransactionLimit,
		},
		{
			name:      "blocked recipient",
			body:      `{"token":"USDC","amount":"5","recipient":"` + blocked + `"}`,
			wantStage: security.StageAllowlist,
			wantCode:  admission.CodeAddressNotAllowed,
			wantLabel: "Sanctioned",
		},
		{
			name:      "malformed amount",
			body:      `{"token":"USDC","amount":"abc","recipient":"` + alice + `"}`,
			wantStage: security.StageSpending,
			wantCode:  admission.CodeInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")

			rec := env.do(t, http.MethodPost, "/v1/payments/check", tt.body, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}
			resp := decode[CheckResponse](t, rec)
			if resp.Allowed != tt.wantAllowed {
				t.Errorf("Expected allowed=%v, got %v (%s)", tt.wantAllowed, resp.Allowed, resp.Reason)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("Expected code %q, got %q", tt.wantCode, resp.Code)
			}
			if resp.Stage != tt.wantStage {
				t.Errorf("Expected stage %q, got %q", tt.wantStage, resp.Stage)
			}
			if resp.Label != tt.wantLabel {
				t.Errorf("Expected label %q, got %q", tt.wantLabel, resp.Label)
			}
		})
	}
}

func TestPaymentCheck_DoesNotRecord(t *testing.T) {
	env := newTestEnv(t, "")
	body := `{"token":"USDC","amount":"60","recipient":"` + alice + `"}`

	for i := 0; i < 3; i++ {
		resp := decode[CheckResponse](t, env.do(t, http.MethodPost, "/v1/payments/check", body, nil))
		if !resp.Allowed {
			t.Fatalf("Check %d: expected allowed, got %s", i+1, resp.Reason)
		}
	}
}

func TestPaymentCheck_RateLimitedCarriesRetryAfter(t *testing.T) {
	env := newTestEnv(t, "")
	p := security.PaymentParams{Token: "USDC", Amount: "1", Recipient: alice}
	for i := 0; i < 2; i++ {
		if err := env.layer.RecordPayment(context.Background(), p); err != nil {
			t.Fatalf("RecordPayment() failed: %v", err)
		}
	}

	rec := env.do(t, http.MethodPost, "/v1/payments/check", `{"token":"USDC","amount":"1","recipient":"`+alice+`"}`, nil)
	resp := decode[CheckResponse](t, rec)
	if resp.Allowed {
		t.Fatal("Expected third payment to the same recipient to be rejected")
	}
	if resp.Code != admission.CodeRateLimited {
		t.Errorf("Expected code %q, got %q", admission.CodeRateLimited, resp.Code)
	}
	if resp.RetryAfterSeconds <= 0 {
		t.Errorf("Expected positive retry_after_seconds, got %d", resp.RetryAfterSeconds)
	}
	if got, want := rec.Header().Get("Retry-After"), strconv.FormatInt(resp.RetryAfterSeconds, 10); got != want {
		t.Errorf("Expected Retry-After header %q, got %q", want, got)
	}
}

func TestPaymentCheck_BadBody(t *testing.T) {
	env := newTestEnv(t, "")

	for _, body := range []string{"", "not json", `{"token":"USDC","unknown":1}`} {
		rec := env.do(t, http.MethodPost, "/v1/payments/check", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Body %q: expected status 400, got %d", body, rec.Code)
		}
	}
}

func TestPaymentCheck_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/v1/payments/check", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

// =============================================================================
// Audit, Allowance, and Address Routes
// =============================================================================

func seedAudit(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	call := recorder.Call{RequestID: "req-1", Tool: "send_payment", Arguments: map[string]any{"to": alice}}
	if _, err := env.layer.LogRejected(ctx, call, "blocked"); err != nil {
		t.Fatalf("LogRejected() failed: %v", err)
	}
	if _, err := env.layer.LogSuccess(ctx, call, "0xabc", "21000"); err != nil {
		t.Fatalf("LogSuccess() failed: %v", err)
	}
	other := recorder.Call{RequestID: "req-2", Tool: "get_balance"}
	if _, err := env.layer.LogSuccess(ctx, other, "", ""); err != nil {
		t.Fatalf("LogSuccess() failed: %v", err)
	}
}

func TestRecentAudit_JSON(t *testing.T) {
	env := newTestEnv(t, "")
	seedAudit(t, env)

	rec := env.do(t, http.MethodGet, "/v1/audit/recent?n=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
	entries := decode[[]evidence.Entry](t, rec)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Tool != "get_balance" {
		t.Errorf("Expected newest entry first, got tool %q", entries[0].Tool)
	}
}

func TestRecentAudit_CSV(t *testing.T) {
	env := newTestEnv(t, "")
	seedAudit(t, env)

	rec := env.do(t, http.MethodGet, "/v1/audit/recent?format=csv", "", nil)
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Errorf("Expected CSV content type, got %q", rec.Header().Get("Content-Type"))
	}
	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("Expected header plus 3 rows, got %d rows", len(rows))
	}
}

func TestRecentAudit_BadParams(t *testing.T) {
	env := newTestEnv(t, "")

	for _, query := range []string{"n=-1", "n=abc", "format=xml"} {
		rec := env.do(t, http.MethodGet, "/v1/audit/recent?"+query, "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Query %q: expected status 400, got %d", query, rec.Code)
		}
	}
}

func TestRequestAudit(t *testing.T) {
	env := newTestEnv(t, "")
	seedAudit(t, env)

	entries := decode[[]evidence.Entry](t, env.do(t, http.MethodGet, "/v1/audit/requests/req-1", "", nil))
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries for req-1, got %d", len(entries))
	}
	for _, e := range entries {
		if e.RequestID != "req-1" {
			t.Errorf("Expected request ID req-1, got %q", e.RequestID)
		}
	}

	entries = decode[[]evidence.Entry](t, env.do(t, http.MethodGet, "/v1/audit/requests/unknown", "", nil))
	if len(entries) != 0 {
		t.Errorf("Expected no entries for unknown request, got %d", len(entries))
	}
}

func TestAllowance(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.layer.RecordPayment(context.Background(), security.PaymentParams{Token: "USDC", Amount: "30", Recipient: alice}); err != nil {
		t.Fatalf("RecordPayment() failed: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/allowance/USDC", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	if body["daily_remaining"] != "70" {
		t.Errorf("Expected daily_remaining 70, got %v", body["daily_remaining"])
	}
}

func TestAddress(t *testing.T) {
	env := newTestEnv(t, "")

	report := decode[security.Report](t, env.do(t, http.MethodGet, "/v1/addresses/"+blocked, "", nil))
	if report.Valid {
		t.Error("Expected blocked address to be invalid")
	}
	if len(report.Errors) != 1 {
		t.Errorf("Expected 1 error, got %v", report.Errors)
	}

	report = decode[security.Report](t, env.do(t, http.MethodGet, "/v1/addresses/"+alice, "", nil))
	if !report.Valid {
		t.Errorf("Expected alice to be valid, got %v", report.Errors)
	}
}

// =============================================================================
// Middleware
// =============================================================================

func TestAuth(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
		{"case-insensitive scheme", "bearer s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			rec := env.do(t, http.MethodGet, "/v1/audit/recent", "", h)
			if rec.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestAuth_ProbesStayOpen(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	for _, path := range []string{"/healthz", "/readyz", "/version", "/metrics"} {
		if rec := env.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Errorf("%s: expected status 200 without token, got %d", path, rec.Code)
		}
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/healthz", "", http.Header{RequestIDHeader: {"client-id-1"}})
	if got := rec.Header().Get(RequestIDHeader); got != "client-id-1" {
		t.Errorf("Expected client request ID to be echoed, got %q", got)
	}

	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("Expected generated UUID request ID, got %q", got)
	}

	long := strings.Repeat("a", maxRequestIDLength+1)
	rec = env.do(t, http.MethodGet, "/healthz", "", http.Header{RequestIDHeader: {long}})
	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("Expected oversized request ID to be replaced, got %q", got)
	}
}

func TestRecovery(t *testing.T) {
	h := recoveryMiddleware(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("Expected panic value not to leak into the response")
	}
}

// =============================================================================
// Error Mapping
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{admission.Malformed(admission.CodeInvalidAmount, "bad"), http.StatusBadRequest},
		{admission.LimitExceeded(admission.CodeDailyTokenLimit, "over", "110", "100"), http.StatusTooManyRequests},
		{admission.RateLimited("slow down", time.Minute), http.StatusTooManyRequests},
		{admission.NotAllowed("blocked", ""), http.StatusForbidden},
		{admission.Internal(admission.CodeConfigUnavailable, "no config", nil), http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v): expected %d, got %d", tt.err, tt.want, got)
		}
	}
}

func TestWriteAdmissionError_RetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	writeAdmissionError(rec, admission.RateLimited("slow down", 1500*time.Millisecond))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Expected Retry-After 2, got %q", got)
	}
	body := decode[errorResponse](t, rec)
	if body.Code != admission.CodeRateLimited {
		t.Errorf("Expected code %q, got %q", admission.CodeRateLimited, body.Code)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestStartShutdown(t *testing.T) {
	env := newTestEnv(t, "")
	cfg := config.Default().Server
	cfg.ListenAddress = "127.0.0.1:0"

	srv, err := New(cfg, Deps{Layer: env.layer, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	if srv.IsRunning() {
		t.Error("Expected server to be stopped")
	}
}
