package export

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"mercator-hq/gatekeeper/pkg/evidence"
)

// TableExporter writes an aligned summary table for terminals.
type TableExporter struct{}

// NewTableExporter creates a new table exporter.
func NewTableExporter() *TableExporter {
	return &TableExporter{}
}

// Export writes one row per entry with the most useful columns.
func (e *TableExporter) Export(ctx context.Context, entries []*evidence.Entry, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTOOL\tRESULT\tREQUEST\tDETAIL")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			entry.Timestamp.Format(time.RFC3339),
			entry.Tool,
			entry.Result,
			entry.RequestID,
			detail(entry),
		)
	}
	if err := tw.Flush(); err != nil {
		return evidence.NewExportError("table", len(entries), err)
	}
	return nil
}

func detail(e *evidence.Entry) string {
	switch e.Result {
	case evidence.ResultSuccess:
		return e.TransactionHash
	case evidence.ResultFailure:
		if e.ErrorCode != "" {
			return e.ErrorCode + ": " + e.ErrorMessage
		}
		return e.ErrorMessage
	case evidence.ResultRejected:
		return e.RejectionReason
	}
	return ""
}

// ForFormat returns the exporter for "json", "jsonl", "csv", or "table".
func ForFormat(format string) (evidence.Exporter, error) {
	switch format {
	case "json":
		return NewJSONExporter(true), nil
	case "jsonl":
		return NewJSONLExporter(), nil
	case "csv":
		return NewCSVExporter(true), nil
	case "table", "":
		return NewTableExporter(), nil
	}
	return nil, fmt.Errorf("unknown export format %q (must be: json, jsonl, csv, table)", format)
}
