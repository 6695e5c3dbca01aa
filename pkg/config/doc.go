// Package config provides configuration management for the gatekeeper.
//
// This package handles loading, validating, and distributing configuration
// from YAML files with environment variable overrides. Admission components
// never read files themselves; they depend only on the Source interface and
// re-read the current snapshot on every call.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention GATEKEEPER_SECTION_FIELD:
//
//   - GATEKEEPER_AUDIT_ENABLED overrides audit.enabled
//   - GATEKEEPER_AUDIT_LOG_PATH overrides audit.log_path
//   - GATEKEEPER_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Snapshots and Hot Reload
//
// A Store holds the active *Config and implements Source. A Watcher observes
// the configuration file and swaps the Store contents when a valid new file is
// written; invalid files are rejected and the previous snapshot stays active.
//
//	store := config.NewStore(cfg)
//	limiter := ratelimit.New(store)
//	watcher, _ := config.NewWatcher(path, store, nil)
//	go watcher.Watch(ctx)
//
// Snapshots must be treated as read-only.
package config
