package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mercator-hq/gatekeeper/pkg/admission"
	"mercator-hq/gatekeeper/pkg/evidence/export"
	"mercator-hq/gatekeeper/pkg/security"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
	maxBodyBytes       = 1 << 20
)

var contentTypes = map[string]string{
	"json":  "application/json",
	"jsonl": "application/x-ndjson",
	"csv":   "text/csv; charset=utf-8",
	"table": "text/plain; charset=utf-8",
}

// CheckResponse is the body returned by POST /v1/payments/check.
type CheckResponse struct {
	Allowed           bool   `json:"allowed"`
	Stage             string `json:"stage,omitempty"`
	Code              string `json:"code,omitempty"`
	Kind              string `json:"kind,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Label             string `json:"label,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (s *Server) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	n := defaultRecentLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer", "")
			return
		}
		n = min(v, maxRecentLimit)
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	exporter, err := export.ForFormat(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var buf bytes.Buffer
	if err := exporter.Export(ctx, s.deps.Layer.GetRecentLogs(n), &buf); err != nil {
		s.logger.ErrorContext(r.Context(), "audit export failed", "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "audit export failed", "")
		return
	}
	w.Header().Set("Content-Type", contentTypes[format])
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleRequestAudit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "request id is required", "")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Layer.GetLogsByRequestID(id))
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	allowance, err := s.deps.Layer.GetRemainingAllowance(r.PathValue("token"))
	if err != nil {
		writeAdmissionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allowance)
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Layer.CheckAddressAllowlist(r.PathValue("address")))
}

// handlePaymentCheck runs admission without recording anything. A rejected
// payment is a successful check, so the status is 200 with allowed=false;
// only unreadable bodies and internal failures produce error statuses.
func (s *Server) handlePaymentCheck(w http.ResponseWriter, r *http.Request) {
	var params security.PaymentParams
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	err := s.deps.Layer.ValidatePayment(ctx, params)
	if err == nil {
		writeJSON(w, http.StatusOK, CheckResponse{Allowed: true})
		return
	}
	if errors.Is(err, admission.ErrInternal) {
		writeAdmissionError(w, err)
		return
	}
	resp := checkResponse(err)
	if resp.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(resp.RetryAfterSeconds, 10))
	}
	writeJSON(w, http.StatusOK, resp)
}

func checkResponse(err error) CheckResponse {
	resp := CheckResponse{Stage: security.RejectedStage(err), Reason: err.Error()}
	var ae *admission.Error
	if errors.As(err, &ae) {
		resp.Code = ae.Code
		resp.Kind = string(ae.Kind)
		resp.Label = ae.Label
		if ae.RetryAfter > 0 {
			resp.RetryAfterSeconds = retryAfterSeconds(ae.RetryAfter)
		}
	}
	return resp
}

// statusFor maps an admission error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, admission.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, admission.ErrLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, admission.ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, admission.ErrInternal):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeAdmissionError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var ae *admission.Error
	if errors.As(err, &ae) && ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(ae.RetryAfter), 10))
	}
	writeError(w, status, err.Error(), admission.CodeOf(err))
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// retryAfterSeconds rounds d up to whole seconds.
func retryAfterSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}
