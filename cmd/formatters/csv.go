package formatters

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

var csvHeader = []string{
	"run_id", "batch", "attachment_id", "title", "parent_id", "parent_name",
	"url", "path", "status", "status_code", "bytes", "duration_ms", "error",
	"mirror_key", "mirror_error",
}

// CSVFormatter handles CSV format output
type CSVFormatter struct{}

// NewCSVFormatter creates a new CSV formatter
func NewCSVFormatter() *CSVFormatter {
	return &CSVFormatter{}
}

// Format renders a header row followed by one record per row
func (f *CSVFormatter) Format(rows []ReportRow) ([]byte, error) {
	var buffer bytes.Buffer
	writer := csv.NewWriter(&buffer)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.RunID,
			strconv.FormatInt(row.Batch, 10),
			row.AttachmentID,
			row.Title,
			row.ParentID,
			row.ParentName,
			row.URL,
			row.Path,
			row.Status,
			strconv.FormatInt(row.StatusCode, 10),
			strconv.FormatInt(row.Bytes, 10),
			strconv.FormatInt(row.DurationMS, 10),
			row.Error,
			row.MirrorKey,
			row.MirrorError,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buffer.Bytes(), nil
}

// Extension returns the file extension for CSV files
func (f *CSVFormatter) Extension() string {
	return ".csv"
}

// MIMEType returns the MIME type for CSV
func (f *CSVFormatter) MIMEType() string {
	return "text/csv"
}
