// Package server provides the gatekeeper admin HTTP server.
//
// # Routes
//
//	GET  /healthz                 liveness
//	GET  /readyz                  readiness (503 when a check fails)
//	GET  /version                 build information
//	GET  /metrics                 Prometheus exposition (path configurable)
//	GET  /v1/audit/recent         newest audit entries (?n=50&format=json|jsonl|csv|table)
//	GET  /v1/audit/requests/{id}  audit entries of one request
//	GET  /v1/allowance/{token}    remaining spending allowance for today
//	GET  /v1/addresses/{address}  allow/block list verdict for a recipient
//	POST /v1/payments/check       dry-run admission of a payment
//
// When server.auth_token is set, every /v1 route requires
// "Authorization: Bearer <token>".
//
// # Middleware
//
// Requests pass through recovery, request ID, access logging and, when
// tracing is enabled, W3C trace propagation. Request IDs are taken from the
// X-Request-ID header or generated, echoed back, and attached to every log
// record written while serving the request.
package server
