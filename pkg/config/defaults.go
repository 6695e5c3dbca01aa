package config

import "time"

// Default values for configuration fields.
const (
	// Allowlist defaults
	DefaultAllowlistMode            = ModeBlocklist
	DefaultAllowlistRefreshInterval = 5 * time.Second

	// Rate limit defaults
	DefaultToolCallsWindow      = time.Minute
	DefaultToolCallsMaxCalls    = 60
	DefaultHighRiskOpsWindow    = time.Hour
	DefaultHighRiskOpsMaxCalls  = 20
	DefaultPerRecipientWindow   = 24 * time.Hour
	DefaultPerRecipientMaxCalls = 10
	DefaultMaxBatchSize         = 20

	// Audit defaults
	DefaultAuditEnabled            = true
	DefaultAuditBufferSize         = 1000
	DefaultAuditSink               = "file"
	DefaultAuditLogPath            = "data/audit.jsonl"
	DefaultAuditSQLitePath         = "data/audit.db"
	DefaultAuditSQLiteWALMode      = true
	DefaultAuditSQLiteBusyTimeout  = 5 * time.Second
	DefaultAuditRedisStream        = "gatekeeper:audit"
	DefaultAuditRedisMaxLen        = int64(100000)
	DefaultAuditBreakerMaxFailures = uint32(5)
	DefaultAuditBreakerOpenTimeout = 30 * time.Second
	DefaultAuditRetentionDays      = 30
	DefaultAuditRetentionSchedule  = "0 3 * * *"

	// Limits storage defaults
	DefaultLimitsStorageBackend    = "memory"
	DefaultLimitsSQLitePath        = "data/limits.db"
	DefaultLimitsSQLiteBusyTimeout = 5 * time.Second
	DefaultLimitsSnapshotInterval  = time.Minute

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsEnabled     = true
	DefaultMetricsPath        = "/metrics"
	DefaultTracingEnabled     = false
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingServiceName = "gatekeeper"
	DefaultTracingSampleRatio = 1.0

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:9464"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultTLSMinVersion     = "1.3"
	DefaultTLSReloadInterval = 5 * time.Minute

	// Secrets defaults
	DefaultSecretsEnvPrefix = "GATEKEEPER_SECRET_"
)

// Default returns a configuration populated with default values. Spending
// limit maps are left empty: with no per-transaction limit configured every
// payment is denied.
func Default() *Config {
	cfg := &Config{}
	cfg.Audit.Enabled = DefaultAuditEnabled
	cfg.Audit.SQLite.WALMode = DefaultAuditSQLiteWALMode
	cfg.Audit.Redis.MaxLen = DefaultAuditRedisMaxLen
	cfg.Audit.Retention.Days = DefaultAuditRetentionDays
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Tracing.Enabled = DefaultTracingEnabled
	cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults. Fields whose zero value
// is meaningful (booleans, retention days, stream length) are seeded by Default
// before the YAML document is decoded on top.
func ApplyDefaults(cfg *Config) {
	applySecurityDefaults(&cfg.Security)
	applyAuditDefaults(&cfg.Audit)
	applyLimitsStorageDefaults(&cfg.LimitsStorage)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyServerDefaults(&cfg.Server)
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}
}

func applySecurityDefaults(cfg *SecurityConfig) {
	if cfg.SpendingLimits.MaxBatchSize == 0 {
		cfg.SpendingLimits.MaxBatchSize = DefaultMaxBatchSize
	}

	if cfg.AddressAllowlist.Mode == "" {
		cfg.AddressAllowlist.Mode = DefaultAllowlistMode
	}
	if cfg.AddressAllowlist.RefreshInterval == 0 {
		cfg.AddressAllowlist.RefreshInterval = DefaultAllowlistRefreshInterval
	}

	applyWindowDefaults(&cfg.RateLimits.ToolCalls, DefaultToolCallsWindow, DefaultToolCallsMaxCalls)
	applyWindowDefaults(&cfg.RateLimits.HighRiskOps, DefaultHighRiskOpsWindow, DefaultHighRiskOpsMaxCalls)
	applyWindowDefaults(&cfg.RateLimits.PerRecipient, DefaultPerRecipientWindow, DefaultPerRecipientMaxCalls)
}

func applyWindowDefaults(w *RateWindow, window time.Duration, maxCalls int) {
	if w.Window == 0 {
		w.Window = window
	}
	if w.MaxCalls == 0 {
		w.MaxCalls = maxCalls
	}
}

func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultAuditBufferSize
	}
	if cfg.Sink == "" {
		cfg.Sink = DefaultAuditSink
	}
	if cfg.LogPath == "" {
		cfg.LogPath = DefaultAuditLogPath
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultAuditSQLitePath
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultAuditSQLiteBusyTimeout
	}
	if cfg.Redis.Stream == "" {
		cfg.Redis.Stream = DefaultAuditRedisStream
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = DefaultAuditBreakerMaxFailures
	}
	if cfg.Breaker.OpenTimeout == 0 {
		cfg.Breaker.OpenTimeout = DefaultAuditBreakerOpenTimeout
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultAuditRetentionSchedule
	}
}

func applyLimitsStorageDefaults(cfg *LimitsStorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultLimitsStorageBackend
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultLimitsSQLitePath
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultLimitsSQLiteBusyTimeout
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = DefaultLimitsSnapshotInterval
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.TLS.MinVersion == "" {
		cfg.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.TLS.ReloadInterval == 0 {
		cfg.TLS.ReloadInterval = DefaultTLSReloadInterval
	}
}
