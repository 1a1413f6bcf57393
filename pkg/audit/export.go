package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportFormat identifies an audit export encoding
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
)

// ParseExportFormat maps a query string value to a format, defaulting to JSON
func ParseExportFormat(s string) (ExportFormat, error) {
	switch s {
	case "", "json":
		return ExportFormatJSON, nil
	case "csv":
		return ExportFormatCSV, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// ContentType returns the MIME type for the format
func (f ExportFormat) ContentType() string {
	if f == ExportFormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Export streams entries to w in the given format
func Export(w io.Writer, entries []*Entry, format ExportFormat) error {
	switch format {
	case ExportFormatCSV:
		return exportCSV(w, entries)
	default:
		return exportJSON(w, entries)
	}
}

func exportJSON(w io.Writer, entries []*Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func exportCSV(w io.Writer, entries []*Entry) error {
	cw := csv.NewWriter(w)

	header := []string{"id", "node_id", "actor", "action", "before", "after", "metadata", "request_id", "created_at"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		row := []string{
			strconv.FormatInt(entry.ID, 10),
			entry.NodeID,
			entry.Actor,
			string(entry.Action),
			jsonField(entry.Before),
			jsonField(entry.After),
			jsonField(entry.Metadata),
			entry.RequestID,
			entry.CreatedAt.Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func jsonField(m map[string]interface{}) string {
	if m == nil {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}
