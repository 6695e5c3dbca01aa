// Package health runs component checks for the admin server's probes.
//
// Liveness only reports that the process is serving. Readiness runs every
// registered check concurrently, each bounded by a timeout:
//
//	checker := health.New(2 * time.Second)
//	checker.Register("config", health.ConfigCheck(store))
//	checker.Register("audit_sink", health.BreakerCheck(opened.Breaker.State))
//
//	mux.Handle("GET /healthz", checker.LivenessHandler())
//	mux.Handle("GET /readyz", checker.ReadinessHandler())
//
// A failing check makes the overall status "degraded" and the readiness
// endpoint answer 503.
package health
