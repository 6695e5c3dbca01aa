// Package export writes audit entries in formats meant for people and
// downstream tools.
//
// # Export Formats
//
//   - JSON: an array of entries, with optional pretty-printing
//   - JSONL: one entry per line, the same layout as the file sink
//   - CSV: flattened columns with a header row; arguments are a JSON cell
//   - Table: aligned columns for terminals
//
// # Basic Usage
//
//	exporter, err := export.ForFormat("csv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := exporter.Export(ctx, entries, os.Stdout); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Handling
//
// Exporters return *evidence.ExportError if encoding or writing fails.
package export
