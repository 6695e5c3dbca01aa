// Package telemetry groups the observability plumbing of the gatekeeper.
//
// # Components
//
//   - logging: slog logger construction with secret redaction
//   - tracing: OpenTelemetry tracer provider and HTTP propagation
//   - health: liveness and readiness checks for the admin server
//
// Admission metrics live in package limits, next to the code that records
// them.
package telemetry
