package config

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "audit.buffer_size").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// NormalizeMode maps an allowlist mode, including the short "allow" and
// "block" spellings, to ModeAllowlist or ModeBlocklist.
func NormalizeMode(mode string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeAllowlist, "allow":
		return ModeAllowlist, true
	case ModeBlocklist, "block":
		return ModeBlocklist, true
	default:
		return "", false
	}
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateSpendingLimits(&cfg.Security.SpendingLimits)...)
	errs = append(errs, validateAllowlist(&cfg.Security.AddressAllowlist)...)
	errs = append(errs, validateRateLimits(&cfg.Security.RateLimits)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateLimitsStorage(&cfg.LimitsStorage)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateServer(&cfg.Server)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateSpendingLimits(cfg *SpendingLimitsConfig) []FieldError {
	var errs []FieldError

	errs = append(errs, validateAmountMap("security.spending_limits.max_single_payment", cfg.MaxSinglePayment)...)
	errs = append(errs, validateAmountMap("security.spending_limits.daily_limit", cfg.DailyLimit)...)

	if cfg.DailyTotalUSD != "" {
		if msg := checkAmount(cfg.DailyTotalUSD); msg != "" {
			errs = append(errs, FieldError{Field: "security.spending_limits.daily_total_usd", Message: msg})
		}
	}
	if cfg.MaxBatchTotalUSD != "" {
		if msg := checkAmount(cfg.MaxBatchTotalUSD); msg != "" {
			errs = append(errs, FieldError{Field: "security.spending_limits.max_batch_total_usd", Message: msg})
		}
	}
	if cfg.MaxBatchSize < 1 {
		errs = append(errs, FieldError{
			Field:   "security.spending_limits.max_batch_size",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateAmountMap(field string, limits map[string]string) []FieldError {
	var errs []FieldError

	tokens := make([]string, 0, len(limits))
	for token := range limits {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		if strings.TrimSpace(token) == "" {
			errs = append(errs, FieldError{Field: field, Message: "token key cannot be empty"})
			continue
		}
		if msg := checkAmount(limits[token]); msg != "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("%s.%s", field, token), Message: msg})
		}
	}
	return errs
}

// checkAmount returns a message when s is not a positive decimal.
func checkAmount(s string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Sprintf("invalid decimal amount %q", s)
	}
	if !d.IsPositive() {
		return fmt.Sprintf("amount must be positive, got %s", s)
	}
	return ""
}

func validateAllowlist(cfg *AddressAllowlistConfig) []FieldError {
	var errs []FieldError

	if _, ok := NormalizeMode(cfg.Mode); !ok {
		errs = append(errs, FieldError{
			Field:   "security.address_allowlist.mode",
			Message: fmt.Sprintf("invalid mode %q (must be: allowlist, blocklist)", cfg.Mode),
		})
	}
	for i, addr := range cfg.Addresses {
		if strings.TrimSpace(addr) == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("security.address_allowlist.addresses[%d]", i),
				Message: "address cannot be empty",
			})
		}
	}
	if cfg.RefreshInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "security.address_allowlist.refresh_interval",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateRateLimits(cfg *RateLimitsConfig) []FieldError {
	var errs []FieldError

	windows := []struct {
		name string
		w    RateWindow
	}{
		{"tool_calls", cfg.ToolCalls},
		{"high_risk_ops", cfg.HighRiskOps},
		{"per_recipient", cfg.PerRecipient},
	}
	for _, entry := range windows {
		field := "security.rate_limits." + entry.name
		if entry.w.Window <= 0 {
			errs = append(errs, FieldError{Field: field + ".window", Message: "must be positive"})
		}
		if entry.w.MaxCalls < 1 {
			errs = append(errs, FieldError{Field: field + ".max_calls", Message: "must be at least 1"})
		}
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	if cfg.BufferSize < 1 {
		errs = append(errs, FieldError{Field: "audit.buffer_size", Message: "must be at least 1"})
	}

	switch cfg.Sink {
	case "none":
	case "file":
		if cfg.LogPath == "" {
			errs = append(errs, FieldError{Field: "audit.log_path", Message: "required when sink is file"})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "audit.sqlite.path", Message: "required when sink is sqlite"})
		}
		if cfg.Retention.Days < 0 {
			errs = append(errs, FieldError{Field: "audit.retention.days", Message: "must not be negative"})
		}
		if cfg.Retention.MaxRecords < 0 {
			errs = append(errs, FieldError{Field: "audit.retention.max_records", Message: "must not be negative"})
		}
		if cfg.Retention.Days > 0 || cfg.Retention.MaxRecords > 0 {
			if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
				errs = append(errs, FieldError{
					Field:   "audit.retention.schedule",
					Message: fmt.Sprintf("invalid cron expression: %v", err),
				})
			}
		}
	case "redis":
		if cfg.Redis.Address == "" {
			errs = append(errs, FieldError{Field: "audit.redis.address", Message: "required when sink is redis"})
		}
		if cfg.Redis.Stream == "" {
			errs = append(errs, FieldError{Field: "audit.redis.stream", Message: "required when sink is redis"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "audit.sink",
			Message: fmt.Sprintf("invalid sink %q (must be: none, file, sqlite, redis)", cfg.Sink),
		})
	}

	if cfg.Breaker.OpenTimeout < 0 {
		errs = append(errs, FieldError{Field: "audit.breaker.open_timeout", Message: "must not be negative"})
	}

	return errs
}

func validateLimitsStorage(cfg *LimitsStorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "limits_storage.sqlite.path", Message: "required when backend is sqlite"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "limits_storage.backend",
			Message: fmt.Sprintf("invalid backend %q (must be: memory, sqlite)", cfg.Backend),
		})
	}
	if cfg.SnapshotInterval < 0 {
		errs = append(errs, FieldError{Field: "limits_storage.snapshot_interval", Message: "must not be negative"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be: debug, info, warn, error)", cfg.Logging.Level),
		})
	}

	switch cfg.Logging.Format {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be: json, text, console)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "required when tracing is enabled"})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0.0 and 1.0"})
		}
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid address %q: %v", cfg.ListenAddress, err),
		})
	}
	if cfg.ReadTimeout <= 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "must be positive"})
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "must be positive"})
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "must be positive"})
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "required when TLS is enabled"})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "required when TLS is enabled"})
		}
		if cfg.TLS.MinVersion != "1.2" && cfg.TLS.MinVersion != "1.3" {
			errs = append(errs, FieldError{
				Field:   "server.tls.min_version",
				Message: fmt.Sprintf("invalid version %q (must be: 1.2, 1.3)", cfg.TLS.MinVersion),
			})
		}
		if cfg.TLS.ReloadInterval <= 0 {
			errs = append(errs, FieldError{Field: "server.tls.reload_interval", Message: "must be positive"})
		}
	}

	return errs
}
