package formatters

import (
	"errors"
	"fmt"
)

// Format type constants
const (
	FormatJSONL   = "jsonl"
	FormatCSV     = "csv"
	FormatParquet = "parquet"
	FormatNone    = "none"
)

// ErrUnsupportedFormat is returned for unknown report formats
var ErrUnsupportedFormat = errors.New("unsupported report format")

// ReportRow is one download attempt in the run report
type ReportRow struct {
	RunID        string `json:"run_id" parquet:"run_id"`
	Batch        int64  `json:"batch" parquet:"batch"`
	AttachmentID string `json:"attachment_id" parquet:"attachment_id"`
	Title        string `json:"title" parquet:"title"`
	ParentID     string `json:"parent_id" parquet:"parent_id"`
	ParentName   string `json:"parent_name" parquet:"parent_name"`
	URL          string `json:"url" parquet:"url"`
	Path         string `json:"path" parquet:"path"`
	Status       string `json:"status" parquet:"status"`
	StatusCode   int64  `json:"status_code,omitempty" parquet:"status_code"`
	Bytes        int64  `json:"bytes" parquet:"bytes"`
	DurationMS   int64  `json:"duration_ms" parquet:"duration_ms"`
	Error        string `json:"error,omitempty" parquet:"error"`
	MirrorKey    string `json:"mirror_key,omitempty" parquet:"mirror_key"`
	MirrorError  string `json:"mirror_error,omitempty" parquet:"mirror_error"`
}

// Formatter defines the interface for report format handlers
type Formatter interface {
	// Format renders the rows in the target format
	Format(rows []ReportRow) ([]byte, error)

	// Extension returns the file extension for this format (e.g., ".jsonl", ".csv", ".parquet")
	Extension() string

	// MIMEType returns the MIME type for this format
	MIMEType() string
}

// GetFormatter returns the appropriate formatter based on the format string
func GetFormatter(format string) (Formatter, error) {
	switch format {
	case FormatJSONL:
		return NewJSONLFormatter(), nil
	case FormatCSV:
		return NewCSVFormatter(), nil
	case FormatParquet:
		return NewParquetFormatter(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
