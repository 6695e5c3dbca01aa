// Package tracing wires OpenTelemetry tracing for the gatekeeper.
//
// New returns a Tracer backed by an OTLP gRPC exporter when tracing is enabled
// and a noop tracer otherwise, so callers never need to check:
//
//	tracer, err := tracing.New(cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	layer, err := security.New(security.Deps{..., Tracer: tracer.Tracer()})
//
// HTTPMiddleware extracts W3C trace context from incoming admin requests and
// opens a server span around each one.
package tracing
