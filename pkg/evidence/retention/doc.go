// Package retention prunes old audit entries from a queryable store.
//
// # Retention Policy
//
//   - Age: entries older than RetentionDays are deleted
//   - Count: only the newest MaxRecords entries are kept
//   - Archive: when ArchivePath is set, entries are exported to a JSON file
//     before they are deleted
//
// # Basic Usage
//
//	pruner := retention.NewPruner(store, &retention.Config{
//	    RetentionDays: 30,
//	    PruneSchedule: "0 3 * * *",
//	})
//
//	if err := pruner.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer pruner.Stop()
//
// # Manual Pruning
//
//	deleted, err := pruner.Prune(ctx)
//
// # Scheduling
//
// The scheduler accepts standard five-field cron expressions. A run that is
// still in progress when the next one is due causes that next run to be
// skipped. With no schedule, or with neither an age nor a count policy,
// Start returns immediately without error.
package retention
