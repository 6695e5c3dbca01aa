package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
)

// expiryWarning is how far ahead of NotAfter a loaded certificate is logged
// as expiring.
const expiryWarning = 30 * 24 * time.Hour

// certReloader serves the certificate pair on disk and re-reads it when
// either file's modification time moves forward.
type certReloader struct {
	certFile string
	keyFile  string
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	cert     *tls.Certificate
	certTime time.Time
	keyTime  time.Time
}

func newCertReloader(certFile, keyFile string, interval time.Duration, logger *slog.Logger) (*certReloader, error) {
	r := &certReloader{
		certFile: certFile,
		keyFile:  keyFile,
		interval: interval,
		logger:   logger,
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// run polls the files until ctx is cancelled.
func (r *certReloader) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.changed() {
				continue
			}
			if err := r.reload(); err != nil {
				r.logger.Error("failed to reload TLS certificate, keeping the previous one",
					"cert_file", r.certFile,
					"error", err,
				)
				continue
			}
			r.logger.Info("TLS certificate reloaded", "cert_file", r.certFile)
		}
	}
}

func (r *certReloader) changed() bool {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return certInfo.ModTime().After(r.certTime) || keyInfo.ModTime().After(r.keyTime)
}

func (r *certReloader) reload() error {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return fmt.Errorf("certificate file: %w", err)
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return fmt.Errorf("key file: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	leaf, err := checkValidity(&cert, time.Now())
	if err != nil {
		return err
	}
	if left := time.Until(leaf.NotAfter); left < expiryWarning {
		r.logger.Warn("TLS certificate expires soon",
			"subject", leaf.Subject.String(),
			"not_after", leaf.NotAfter.Format(time.RFC3339),
		)
	}

	r.mu.Lock()
	r.cert = &cert
	r.certTime = certInfo.ModTime()
	r.keyTime = keyInfo.ModTime()
	r.mu.Unlock()
	return nil
}

// getCertificate implements tls.Config.GetCertificate.
func (r *certReloader) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// checkValidity parses the leaf of cert and rejects it outside its validity
// window.
func checkValidity(cert *tls.Certificate, now time.Time) (*x509.Certificate, error) {
	if len(cert.Certificate) == 0 {
		return nil, errors.New("certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	if now.Before(leaf.NotBefore) {
		return nil, fmt.Errorf("certificate is not yet valid (valid from %s)", leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return nil, fmt.Errorf("certificate expired on %s", leaf.NotAfter.Format(time.RFC3339))
	}
	return leaf, nil
}

// newTLSConfig builds the server TLS configuration. It returns nil when TLS
// is disabled.
func newTLSConfig(cfg config.TLSConfig, logger *slog.Logger) (*tls.Config, *certReloader, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	interval := cfg.ReloadInterval
	if interval <= 0 {
		interval = config.DefaultTLSReloadInterval
	}
	reloader, err := newCertReloader(cfg.CertFile, cfg.KeyFile, interval, logger)
	if err != nil {
		return nil, nil, err
	}

	// #nosec G402 - MinVersion is 1.2 or 1.3
	tlsConfig := &tls.Config{
		MinVersion:     tls.VersionTLS13,
		GetCertificate: reloader.getCertificate,
	}
	if cfg.MinVersion == "1.2" {
		tlsConfig.MinVersion = tls.VersionTLS12
	}

	if cfg.ClientCAFile != "" {
		pem, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, nil, errors.New("client CA file contains no certificates")
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, reloader, nil
}
