package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"mercator-hq/gatekeeper/pkg/evidence"
)

// CSVExporter exports entries to CSV format.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{
		IncludeHeader: includeHeader,
	}
}

// Export writes entries to w in CSV format. The arguments map and client
// info are written as JSON cells.
func (e *CSVExporter) Export(ctx context.Context, entries []*evidence.Entry, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Header()); err != nil {
			return evidence.NewExportError("csv", len(entries), err)
		}
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return evidence.NewExportError("csv", i, err)
		}
		row, err := entryToRow(entry)
		if err != nil {
			return evidence.NewExportError("csv", i, err)
		}
		if err := writer.Write(row); err != nil {
			return evidence.NewExportError("csv", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return evidence.NewExportError("csv", len(entries), err)
	}
	return nil
}

// Header returns the CSV column names.
func Header() []string {
	return []string{
		"id", "timestamp", "request_id",
		"tool", "result", "duration_ms",
		"transaction_hash", "gas_cost",
		"error_message", "error_code",
		"rejection_reason",
		"arguments", "client_info",
		"prev_hash", "hash",
	}
}

// entryToRow converts an entry to a CSV row.
func entryToRow(entry *evidence.Entry) ([]string, error) {
	args := ""
	if len(entry.Arguments) > 0 {
		data, err := json.Marshal(entry.Arguments)
		if err != nil {
			return nil, err
		}
		args = string(data)
	}

	client := ""
	if entry.ClientInfo != nil {
		data, err := json.Marshal(entry.ClientInfo)
		if err != nil {
			return nil, err
		}
		client = string(data)
	}

	ts := ""
	if !entry.Timestamp.IsZero() {
		ts = entry.Timestamp.Format(time.RFC3339Nano)
	}

	return []string{
		entry.ID,
		ts,
		entry.RequestID,
		entry.Tool,
		string(entry.Result),
		strconv.FormatInt(entry.DurationMs, 10),
		entry.TransactionHash,
		entry.GasCost,
		entry.ErrorMessage,
		entry.ErrorCode,
		entry.RejectionReason,
		args,
		client,
		entry.PrevHash,
		entry.Hash,
	}, nil
}
