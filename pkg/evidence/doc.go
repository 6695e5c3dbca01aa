// Package evidence defines the audit trail produced by the admission layer.
// Every validated, rejected, executed, or failed payment-shaped tool call
// becomes an Entry with sanitized arguments, an outcome, and a hash linking
// it to the previous entry.
//
// # Architecture
//
// The audit system consists of three layers:
//
//  1. Recorder - redacts arguments, assigns ids and timestamps, keeps a
//     bounded in-memory ring of recent entries
//  2. Sink - durable destination for each entry (JSON lines file, SQLite,
//     Redis stream), optionally behind a circuit breaker
//  3. Store - a sink that can be queried, counted, and pruned
//
// # Recording Flow
//
//	Tool handler → security.Layer → recorder.AuditLogger.Log
//	     ↓
//	Sanitize arguments (secret field names → [REDACTED])
//	     ↓
//	Assign id, timestamp, hash chain
//	     ↓
//	Ring buffer (always)  +  Sink.Write (when enabled)
//
// A sink failure never removes the entry from the ring buffer. The recorder
// returns the stored entry together with a *SinkError so the caller can
// decide whether the failure matters.
//
// # Basic Usage
//
//	sink, err := storage.NewFileSink("data/audit.jsonl")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	audit := recorder.New(recorder.Config{
//	    Enabled:  true,
//	    Capacity: 1000,
//	    LogPath:  "data/audit.jsonl",
//	}, sink)
//	defer audit.Close()
//
//	entry, err := audit.LogRejected(ctx, recorder.Call{
//	    Tool:      "send_payment",
//	    Arguments: map[string]any{"to": "0xdead...", "amount": "5"},
//	}, "address 0xdead... is blocked: Sanctioned")
//
// # Querying Entries
//
// Stores (SQLite and memory) answer Query, newest first:
//
//	entries, err := store.Query(ctx, &evidence.Query{
//	    Tool:   "send_payment",
//	    Result: evidence.ResultRejected,
//	    Limit:  50,
//	})
//
//	exporter := export.NewJSONExporter(true)
//	exporter.Export(ctx, entries, os.Stdout)
//
// # Retention
//
// Stores can be pruned on a cron schedule:
//
//	pruner := retention.NewPruner(store, &retention.Config{
//	    RetentionDays: 30,
//	    PruneSchedule: "0 3 * * *",
//	})
//	pruner.Start(ctx)
//	defer pruner.Stop()
//
// # Thread Safety
//
// All evidence types are safe for concurrent use.
package evidence
