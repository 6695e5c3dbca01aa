package export

import (
	"context"
	"encoding/json"
	"io"

	"mercator-hq/gatekeeper/pkg/evidence"
)

// JSONExporter exports entries as a JSON array.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{
		Pretty: pretty,
	}
}

// Export writes entries to w as a JSON array. An empty input produces "[]".
func (e *JSONExporter) Export(ctx context.Context, entries []*evidence.Entry, w io.Writer) error {
	if entries == nil {
		entries = []*evidence.Entry{}
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(entries, "", "  ")
	} else {
		data, err = json.Marshal(entries)
	}
	if err != nil {
		return evidence.NewExportError("json", len(entries), err)
	}

	if _, err := w.Write(append(data, '\n')); err != nil {
		return evidence.NewExportError("json", len(entries), err)
	}
	return nil
}

// JSONLExporter exports one JSON entry per line.
type JSONLExporter struct{}

// NewJSONLExporter creates a new JSON lines exporter.
func NewJSONLExporter() *JSONLExporter {
	return &JSONLExporter{}
}

// Export writes entries to w, one per line, checking ctx between entries.
func (e *JSONLExporter) Export(ctx context.Context, entries []*evidence.Entry, w io.Writer) error {
	enc := json.NewEncoder(w)
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return evidence.NewExportError("jsonl", i, err)
		}
		if err := enc.Encode(entry); err != nil {
			return evidence.NewExportError("jsonl", i, err)
		}
	}
	return nil
}
