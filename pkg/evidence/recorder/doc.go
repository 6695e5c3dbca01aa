// Package recorder implements the audit logger used by the admission layer.
//
// # Recording Flow
//
//  1. A tool handler asks security.Layer to validate a payment
//  2. The handler logs the outcome (success, failure, or rejected)
//  3. The recorder sanitizes the call arguments
//  4. The entry gets a UUID, a UTC timestamp, and a chain hash
//  5. The entry is appended to the ring buffer
//  6. If enabled, the entry is written to the durable sink
//
// # Basic Usage
//
//	audit := recorder.New(recorder.Config{
//	    Enabled:  true,
//	    Capacity: 1000,
//	    LogPath:  "data/audit.jsonl",
//	}, sink)
//	defer audit.Close()
//
//	audit.LogSuccess(ctx, recorder.Call{
//	    RequestID: "req-42",
//	    Tool:      "send_payment",
//	    Arguments: args,
//	}, txHash, gasCost)
//
//	recent := audit.GetRecentLogs(20)
//
// # Redaction
//
// Any argument whose name contains a secret marker (key, password, secret,
// token, mnemonic, seed, private, credential, authorization), compared
// case-insensitively, is replaced with "[REDACTED]". Redaction applies at
// every depth, including maps inside sequences:
//
//	Sanitize(map[string]any{
//	    "privateKey": "0xsecret",       // → "[REDACTED]"
//	    "amount":     "5",              // unchanged
//	    "signers": []any{
//	        map[string]any{"apiKey": "k"}, // apiKey → "[REDACTED]"
//	    },
//	})
//
// # Hash Chain
//
// Each entry stores the hash of the previous entry and a hash of its own
// content. VerifyChain detects edits, deletions, and reordering in an
// exported or persisted log.
//
// # Sink Failures
//
// A failed sink write does not drop the entry from memory. The error is
// returned as *evidence.SinkError, passed to the WithOnSinkError hook, and
// logged at most once every ten seconds.
package recorder
