// Package logging builds the process slog.Logger.
//
// # Overview
//
// New returns a *slog.Logger whose handler:
//   - writes JSON, text, or console output at the configured level
//   - replaces the value of any attribute whose key names secret material
//     (private keys, passwords, mnemonics, credentials) with [REDACTED]
//   - scrubs bearer tokens and URL credentials out of string values
//   - adds request_id and the OpenTelemetry trace and span ids found in the
//     context passed to the *Context logging methods
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging, os.Stderr))
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "payment admitted", "privateKey", pk) // privateKey=[REDACTED]
//
// The attribute keys "token" and "key" are not redacted: in this codebase they
// carry asset symbols and ledger keys.
package logging
