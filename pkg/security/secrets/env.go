package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	Prefix string
}

// NewEnvProvider creates an EnvProvider that prepends prefix to every
// variable name.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix}
}

// Name returns "env".
func (p *EnvProvider) Name() string { return "env" }

// Lookup reads the variable for name. An empty variable counts as unset.
func (p *EnvProvider) Lookup(ctx context.Context, name string) (string, error) {
	v := p.Variable(name)
	value := os.Getenv(v)
	if value == "" {
		return "", fmt.Errorf("%w: %s not set", ErrNotFound, v)
	}
	return value, nil
}

// Variable returns the environment variable name consulted for name.
//
// Example: "admin-token" -> "GATEKEEPER_SECRET_ADMIN_TOKEN"
func (p *EnvProvider) Variable(name string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return p.Prefix + strings.ToUpper(r.Replace(name))
}
