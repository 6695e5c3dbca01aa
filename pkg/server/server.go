package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/security"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// Deps are the collaborators served by the admin server. Layer is required.
type Deps struct {
	Layer   *security.Layer
	Health  *health.Checker
	Tracer  *tracing.Tracer
	Logger  *slog.Logger
	Version string
	Commit  string

	// Gatherer exposes metrics at MetricsPath. Nil disables the endpoint.
	Gatherer    prometheus.Gatherer
	MetricsPath string
}

// Server is the admin HTTP server.
type Server struct {
	cfg        config.ServerConfig
	deps       Deps
	logger     *slog.Logger
	httpServer *http.Server
	tlsConfig  *tls.Config
	reloader   *certReloader

	mu      sync.Mutex
	running bool
	addr    net.Addr
}

// New creates an admin server. It does not listen until Start is called.
// When TLS is enabled the certificate pair is loaded here so that a bad
// pair fails startup.
func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Layer == nil {
		return nil, errors.New("security layer is required")
	}
	if deps.Health == nil {
		deps.Health = health.New(0)
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = config.DefaultMetricsPath
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "server"),
	}
	tlsConfig, reloader, err := newTLSConfig(cfg.TLS, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}
	s.tlsConfig = tlsConfig
	s.reloader = reloader

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Start listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	s.running = true
	s.addr = ln.Addr()
	s.mu.Unlock()

	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
		go s.reloader.run(ctx)
	}
	s.logger.Info("admin server started", "address", ln.Addr().String(), "tls", s.tlsConfig != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err, ok := <-errCh:
		s.setStopped()
		if ok {
			return err
		}
		return nil
	}
}

// Shutdown stops accepting connections and waits up to the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.setStopped()
	if err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Info("admin server stopped")
	return nil
}

// Addr returns the bound address while the server is running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) setStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", s.deps.Health.LivenessHandler())
	mux.Handle("GET /readyz", s.deps.Health.ReadinessHandler())
	mux.Handle("GET /version", health.VersionHandler(s.deps.Version, s.deps.Commit))
	if s.deps.Gatherer != nil {
		mux.Handle("GET "+s.deps.MetricsPath, metricsHandler(s.deps.Gatherer))
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /v1/audit/recent", s.handleRecentAudit)
	api.HandleFunc("GET /v1/audit/requests/{id}", s.handleRequestAudit)
	api.HandleFunc("GET /v1/allowance/{token}", s.handleAllowance)
	api.HandleFunc("GET /v1/addresses/{address}", s.handleAddress)
	api.HandleFunc("POST /v1/payments/check", s.handlePaymentCheck)
	mux.Handle("/v1/", authMiddleware(s.cfg.AuthToken, s.logger)(api))

	var handler http.Handler = mux
	handler = loggingMiddleware(s.logger)(handler)
	if s.deps.Tracer != nil {
		handler = s.deps.Tracer.HTTPMiddleware(handler)
	}
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(s.logger)(handler)
	return handler
}

// requestTimeout bounds handlers that call into managers.
const requestTimeout = 5 * time.Second
