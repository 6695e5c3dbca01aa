package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"mercator-hq/gatekeeper/pkg/config"
)

// refPattern matches ${secret:name}.
var refPattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Resolver looks secrets up in a chain of providers.
type Resolver struct {
	providers []Provider
	logger    *slog.Logger
}

// NewResolver creates a Resolver that consults providers in order.
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{
		providers: providers,
		logger:    slog.Default().With("component", "security.secrets"),
	}
}

// FromConfig builds the environment provider, followed by the file provider
// when cfg.Dir is set.
func FromConfig(cfg config.SecretsConfig) (*Resolver, error) {
	providers := []Provider{NewEnvProvider(cfg.EnvPrefix)}
	if cfg.Dir != "" {
		fp, err := NewFileProvider(cfg.Dir)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fp)
	}
	return NewResolver(providers...), nil
}

// Get returns the first value any provider holds for name. A provider error
// other than ErrNotFound stops the search.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	for _, p := range r.providers {
		value, err := p.Lookup(ctx, name)
		if err == nil {
			r.logger.Debug("secret resolved", "name", name, "provider", p.Name())
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("secret %q from %s: %w", name, p.Name(), err)
		}
	}
	return "", fmt.Errorf("secret %q: %w", name, ErrNotFound)
}

// Resolve replaces every ${secret:name} in s. Strings without references are
// returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, s string) (string, error) {
	var errs []error
	out := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := refPattern.FindStringSubmatch(ref)[1]
		value, err := r.Get(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return ref
		}
		return value
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

// ResolveConfig resolves references in the secret-bearing fields of cfg in
// place.
func (r *Resolver) ResolveConfig(ctx context.Context, cfg *config.Config) error {
	fields := []struct {
		name string
		dst  *string
	}{
		{"server.auth_token", &cfg.Server.AuthToken},
		{"audit.redis.password", &cfg.Audit.Redis.Password},
	}

	var errs []error
	for _, f := range fields {
		value, err := r.Resolve(ctx, *f.dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		*f.dst = value
	}
	return errors.Join(errs...)
}
