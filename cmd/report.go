package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/airframesio/sf-file-export/cmd/formatters"
)

// ReportBaseName is the run report file name without extension
const ReportBaseName = "export-report"

func reportRow(runID string, outcome DownloadOutcome, parents map[AttachmentID]ParentLink) formatters.ReportRow {
	row := formatters.ReportRow{
		RunID:        runID,
		Batch:        int64(outcome.Batch),
		AttachmentID: string(outcome.AttachmentID),
		Title:        outcome.Title,
		URL:          outcome.URL,
		Path:         outcome.Path,
		Status:       "failed",
		StatusCode:   int64(outcome.StatusCode),
		Bytes:        outcome.Bytes,
		DurationMS:   outcome.Duration.Milliseconds(),
		Error:        outcome.Reason(),
		MirrorKey:    outcome.MirrorKey,
	}
	if outcome.Success {
		row.Status = "ok"
	}
	if outcome.MirrorErr != nil {
		row.MirrorError = outcome.MirrorErr.Error()
	}
	if parent, ok := parents[outcome.AttachmentID]; ok {
		row.ParentID = parent.ParentID
		row.ParentName = parent.ParentName
	}
	return row
}

// writeReport renders rows in format and writes them into dir
func writeReport(dir, format string, rows []formatters.ReportRow) (string, error) {
	formatter, err := formatters.GetFormatter(format)
	if err != nil {
		return "", err
	}

	data, err := formatter.Format(rows)
	if err != nil {
		return "", fmt.Errorf("failed to format report: %w", err)
	}

	path := filepath.Join(dir, ReportBaseName+formatter.Extension())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
