package config

import "time"

// Config is the root configuration structure.
type Config struct {
	// Security contains the admission-control policy: spending limits,
	// recipient allowlist, and rate limits.
	Security SecurityConfig `yaml:"security"`

	// Audit configures the audit logger and its durable sink.
	Audit AuditConfig `yaml:"audit"`

	// LimitsStorage configures persistence of the spending ledger.
	LimitsStorage LimitsStorageConfig `yaml:"limits_storage"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Server configures the admin HTTP server.
	Server ServerConfig `yaml:"server"`

	// Secrets configures where ${secret:name} references are resolved.
	Secrets SecretsConfig `yaml:"secrets"`
}

// SecurityConfig contains the policy consumed by the admission managers.
type SecurityConfig struct {
	// SpendingLimits contains per-transaction and daily ceilings.
	SpendingLimits SpendingLimitsConfig `yaml:"spending_limits"`

	// AddressAllowlist contains the recipient allow/block policy.
	AddressAllowlist AddressAllowlistConfig `yaml:"address_allowlist"`

	// RateLimits contains sliding-window limits per category.
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
}

// WildcardToken is the token key that applies when no token-specific entry exists.
const WildcardToken = "*"

// SpendingLimitsConfig contains spending ceilings. Amounts are decimal strings
// so they round-trip exactly.
type SpendingLimitsConfig struct {
	// MaxSinglePayment maps token to per-transaction ceiling. The "*" key is
	// the default. A token with neither entry is denied.
	MaxSinglePayment map[string]string `yaml:"max_single_payment"`

	// DailyLimit maps token to per-day ceiling. The "*" key is the default.
	// A token with neither entry has no per-token daily ceiling.
	DailyLimit map[string]string `yaml:"daily_limit"`

	// DailyTotalUSD is the aggregate per-day ceiling across all tokens.
	// Empty disables the aggregate check.
	DailyTotalUSD string `yaml:"daily_total_usd"`

	// MaxBatchSize is the maximum number of recipients in one batch payment.
	MaxBatchSize int `yaml:"max_batch_size"`

	// MaxBatchTotalUSD is the ceiling on the aggregate value of one batch.
	MaxBatchTotalUSD string `yaml:"max_batch_total_usd"`
}

// Allowlist modes.
const (
	ModeAllowlist = "allowlist"
	ModeBlocklist = "blocklist"
)

// AddressAllowlistConfig contains the recipient allow/block policy.
type AddressAllowlistConfig struct {
	// Enabled turns the address gate on. When false every address is allowed.
	Enabled bool `yaml:"enabled"`

	// Mode is "allowlist" (only listed addresses pass) or "blocklist"
	// (listed addresses are rejected).
	Mode string `yaml:"mode"`

	// Addresses is the list of recipient addresses.
	Addresses []string `yaml:"addresses"`

	// Labels maps an address to a human-readable label.
	Labels map[string]string `yaml:"labels"`

	// RefreshInterval is the minimum time between configuration checks.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// RateLimitsConfig contains one window per rate-limit category.
type RateLimitsConfig struct {
	// ToolCalls limits every guarded tool call.
	ToolCalls RateWindow `yaml:"tool_calls"`

	// HighRiskOps limits value-moving operations.
	HighRiskOps RateWindow `yaml:"high_risk_ops"`

	// PerRecipient limits payments to one recipient address.
	PerRecipient RateWindow `yaml:"per_recipient"`
}

// RateWindow is a sliding-window limit.
type RateWindow struct {
	// Window is the trailing window length.
	Window time.Duration `yaml:"window"`

	// MaxCalls is the number of calls allowed within Window.
	MaxCalls int `yaml:"max_calls"`
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	// Enabled forwards entries to the durable sink. The in-memory buffer is
	// always kept.
	Enabled bool `yaml:"enabled"`

	// BufferSize is the capacity of the in-memory ring buffer.
	BufferSize int `yaml:"buffer_size"`

	// Sink selects the durable sink: "none", "file", "sqlite", or "redis".
	Sink string `yaml:"sink"`

	// LogPath is the JSON-lines file used by the "file" sink.
	LogPath string `yaml:"log_path"`

	// SQLite configures the "sqlite" sink.
	SQLite AuditSQLiteConfig `yaml:"sqlite"`

	// Redis configures the "redis" sink.
	Redis AuditRedisConfig `yaml:"redis"`

	// Breaker configures the circuit breaker around sink writes.
	Breaker BreakerConfig `yaml:"breaker"`

	// Retention configures pruning of the "sqlite" sink.
	Retention RetentionConfig `yaml:"retention"`
}

// AuditSQLiteConfig configures the SQLite audit sink.
type AuditSQLiteConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// WALMode enables Write-Ahead Logging.
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait when the database is locked.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// AuditRedisConfig configures the Redis stream audit sink.
type AuditRedisConfig struct {
	// Address is the Redis host:port.
	Address string `yaml:"address"`

	// Password is the optional Redis password.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// Stream is the stream key entries are appended to.
	Stream string `yaml:"stream"`

	// MaxLen approximately caps the stream length. 0 means uncapped.
	MaxLen int64 `yaml:"max_len"`
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32 `yaml:"max_failures"`

	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// RetentionConfig configures audit record pruning.
type RetentionConfig struct {
	// Days is how long records are kept. 0 keeps records forever.
	Days int `yaml:"days"`

	// Schedule is the cron expression pruning runs on.
	Schedule string `yaml:"schedule"`

	// MaxRecords caps the number of stored records. 0 disables the cap.
	MaxRecords int `yaml:"max_records"`

	// ArchivePath is the directory pruned records are written to before
	// deletion. Empty disables archiving.
	ArchivePath string `yaml:"archive_path"`
}

// LimitsStorageConfig configures spending ledger persistence.
type LimitsStorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// SQLite configures the "sqlite" backend.
	SQLite LimitsSQLiteConfig `yaml:"sqlite"`

	// SnapshotInterval is how often the ledger is saved while running.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// LimitsSQLiteConfig contains SQLite ledger storage configuration.
type LimitsSQLiteConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks before failing.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`

	// Format is "json", "text", or "console".
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled registers metrics and exposes them on the admin server.
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path of the metrics endpoint.
	Path string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on span export. When false a noop tracer is used.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// ServiceName is reported as service.name.
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of traces sampled (0.0-1.0).
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	// ListenAddress is the host:port to bind.
	ListenAddress string `yaml:"listen_address"`

	// AuthToken, when set, is the bearer token required on /v1 routes.
	AuthToken string `yaml:"auth_token"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS serves the admin API over HTTPS.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures HTTPS on the admin server.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// CertFile and KeyFile are PEM files. They are re-read when their
	// modification time changes.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	MinVersion string `yaml:"min_version"`

	// ClientCAFile, when set, requires clients to present a certificate
	// signed by one of its CAs.
	ClientCAFile string `yaml:"client_ca_file"`

	// ReloadInterval is how often the certificate files are checked.
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// SecretsConfig configures secret resolution. Secret-bearing fields
// (server.auth_token, audit.redis.password) may hold ${secret:name}
// references instead of literal values.
type SecretsConfig struct {
	// EnvPrefix is prepended to the upper-cased secret name to form the
	// environment variable that is consulted first.
	EnvPrefix string `yaml:"env_prefix"`

	// Dir is a directory of one-file-per-secret mounts, consulted after
	// the environment. Empty disables file lookup.
	Dir string `yaml:"dir"`
}
