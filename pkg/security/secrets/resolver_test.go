package secrets

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mercator-hq/gatekeeper/pkg/config"
)

func TestResolver_Get_Order(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "admin-token", "from-file", 0600)
	writeSecret(t, dir, "redis-password", "file-only", 0600)
	t.Setenv("TEST_SECRET_ADMIN_TOKEN", "from-env")

	r, err := FromConfig(config.SecretsConfig{EnvPrefix: "TEST_SECRET_", Dir: dir})
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	ctx := context.Background()

	if got, _ := r.Get(ctx, "admin-token"); got != "from-env" {
		t.Errorf("Expected the environment to win, got %q", got)
	}
	if got, _ := r.Get(ctx, "redis-password"); got != "file-only" {
		t.Errorf("Expected fallback to the file provider, got %q", got)
	}
	if _, err := r.Get(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestResolver_Get_HardErrorStops(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "leaky", "x", 0644)

	r, err := FromConfig(config.SecretsConfig{EnvPrefix: "TEST_SECRET_", Dir: dir})
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	_, err = r.Get(context.Background(), "leaky")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Expected a permission error, got %v", err)
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Setenv("TEST_SECRET_USER", "alice")
	t.Setenv("TEST_SECRET_PASS", "hunter2")
	r := NewResolver(NewEnvProvider("TEST_SECRET_"))
	ctx := context.Background()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "literal", in: "plain-token", want: "plain-token"},
		{name: "empty", in: "", want: ""},
		{name: "whole value", in: "${secret:pass}", want: "hunter2"},
		{name: "embedded", in: "${secret:user}:${secret:pass}", want: "alice:hunter2"},
		{name: "missing", in: "${secret:nope}", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestResolver_ResolveConfig(t *testing.T) {
	t.Setenv("TEST_SECRET_ADMIN_TOKEN", "tok")
	r := NewResolver(NewEnvProvider("TEST_SECRET_"))

	cfg := config.Default()
	cfg.Server.AuthToken = "${secret:admin-token}"
	cfg.Audit.Redis.Password = "literal"
	if err := r.ResolveConfig(context.Background(), cfg); err != nil {
		t.Fatalf("ResolveConfig() error = %v", err)
	}
	if cfg.Server.AuthToken != "tok" {
		t.Errorf("Expected auth token tok, got %q", cfg.Server.AuthToken)
	}
	if cfg.Audit.Redis.Password != "literal" {
		t.Errorf("Expected literal password to be kept, got %q", cfg.Audit.Redis.Password)
	}

	cfg.Audit.Redis.Password = "${secret:missing}"
	err := r.ResolveConfig(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "audit.redis.password") {
		t.Errorf("Expected error naming audit.redis.password, got %v", err)
	}
}
