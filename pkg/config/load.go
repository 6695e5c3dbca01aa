package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "GATEKEEPER_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes a YAML document on top of the default configuration and fills
// any remaining zero values. It does not validate. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention GATEKEEPER_SECTION_FIELD (e.g., GATEKEEPER_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv builds a configuration from defaults and environment variable
// overrides alone, for running without a configuration file.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numeric, boolean, or duration values are ignored.
func applyEnvOverrides(cfg *Config) {
	// Spending limit overrides
	envString("SECURITY_SPENDING_LIMITS_DAILY_TOTAL_USD", &cfg.Security.SpendingLimits.DailyTotalUSD)
	envString("SECURITY_SPENDING_LIMITS_MAX_BATCH_TOTAL_USD", &cfg.Security.SpendingLimits.MaxBatchTotalUSD)
	envInt("SECURITY_SPENDING_LIMITS_MAX_BATCH_SIZE", &cfg.Security.SpendingLimits.MaxBatchSize)

	// Allowlist overrides
	envBool("SECURITY_ADDRESS_ALLOWLIST_ENABLED", &cfg.Security.AddressAllowlist.Enabled)
	envString("SECURITY_ADDRESS_ALLOWLIST_MODE", &cfg.Security.AddressAllowlist.Mode)
	envDuration("SECURITY_ADDRESS_ALLOWLIST_REFRESH_INTERVAL", &cfg.Security.AddressAllowlist.RefreshInterval)
	if val := os.Getenv(EnvPrefix + "SECURITY_ADDRESS_ALLOWLIST_ADDRESSES"); val != "" {
		var addrs []string
		for _, a := range strings.Split(val, ",") {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
		cfg.Security.AddressAllowlist.Addresses = addrs
	}

	// Rate limit overrides
	envWindow("SECURITY_RATE_LIMITS_TOOL_CALLS", &cfg.Security.RateLimits.ToolCalls)
	envWindow("SECURITY_RATE_LIMITS_HIGH_RISK_OPS", &cfg.Security.RateLimits.HighRiskOps)
	envWindow("SECURITY_RATE_LIMITS_PER_RECIPIENT", &cfg.Security.RateLimits.PerRecipient)

	// Audit overrides
	envBool("AUDIT_ENABLED", &cfg.Audit.Enabled)
	envInt("AUDIT_BUFFER_SIZE", &cfg.Audit.BufferSize)
	envString("AUDIT_SINK", &cfg.Audit.Sink)
	envString("AUDIT_LOG_PATH", &cfg.Audit.LogPath)
	envString("AUDIT_SQLITE_PATH", &cfg.Audit.SQLite.Path)
	envString("AUDIT_REDIS_ADDRESS", &cfg.Audit.Redis.Address)
	envString("AUDIT_REDIS_PASSWORD", &cfg.Audit.Redis.Password)
	envString("AUDIT_REDIS_STREAM", &cfg.Audit.Redis.Stream)
	envInt("AUDIT_RETENTION_DAYS", &cfg.Audit.Retention.Days)
	envString("AUDIT_RETENTION_SCHEDULE", &cfg.Audit.Retention.Schedule)
	envInt("AUDIT_RETENTION_MAX_RECORDS", &cfg.Audit.Retention.MaxRecords)
	envString("AUDIT_RETENTION_ARCHIVE_PATH", &cfg.Audit.Retention.ArchivePath)

	// Limits storage overrides
	envString("LIMITS_STORAGE_BACKEND", &cfg.LimitsStorage.Backend)
	envString("LIMITS_STORAGE_SQLITE_PATH", &cfg.LimitsStorage.SQLite.Path)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envString("TELEMETRY_TRACING_SERVICE_NAME", &cfg.Telemetry.Tracing.ServiceName)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}

	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envString("SERVER_AUTH_TOKEN", &cfg.Server.AuthToken)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envBool("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	envString("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)

	// Secrets overrides
	envString("SECRETS_DIR", &cfg.Secrets.Dir)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envWindow(prefix string, dst *RateWindow) {
	envDuration(prefix+"_WINDOW", &dst.Window)
	envInt(prefix+"_MAX_CALLS", &dst.MaxCalls)
}
