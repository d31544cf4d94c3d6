package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
)

// BatchSummary records what happened to one batch
type BatchSummary struct {
	Index     int
	Size      int // ids submitted
	Fetched   int // metadata rows returned
	Succeeded int
	Failed    int
	Err       error // *BatchFetchError when the batch was skipped
}

// Summary is the structured result of one export run
type Summary struct {
	RunID         string
	DryRun        bool
	ResolvedCount int
	LinkRows      int
	Batches       []BatchSummary
	Failures      []DownloadOutcome
	MirrorErrors  int
	Bytes         int64
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Succeeded returns the number of files written
func (s *Summary) Succeeded() int {
	total := 0
	for _, b := range s.Batches {
		total += b.Succeeded
	}
	return total
}

// Failed returns the number of failed downloads
func (s *Summary) Failed() int {
	total := 0
	for _, b := range s.Batches {
		total += b.Failed
	}
	return total
}

// SkippedBatches returns the number of batches whose metadata query failed
func (s *Summary) SkippedBatches() int {
	total := 0
	for _, b := range s.Batches {
		if b.Err != nil {
			total++
		}
	}
	return total
}

// Err aggregates every batch and item failure, or returns nil
func (s *Summary) Err() error {
	var result *multierror.Error
	for _, b := range s.Batches {
		if b.Err != nil {
			result = multierror.Append(result, b.Err)
		}
	}
	for _, f := range s.Failures {
		result = multierror.Append(result, f.Err)
	}
	return result.ErrorOrNil()
}

func (s *Summary) recordBatch(batch BatchSummary, outcomes []DownloadOutcome) {
	for _, o := range outcomes {
		if o.Success {
			batch.Succeeded++
			s.Bytes += o.Bytes
		} else {
			batch.Failed++
			s.Failures = append(s.Failures, o)
		}
		if o.MirrorErr != nil {
			s.MirrorErrors++
		}
	}
	s.Batches = append(s.Batches, batch)
}

// Log writes a human-readable summary
func (s *Summary) Log(logger *slog.Logger) {
	logger.Info("")
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Info(fmt.Sprintf("📈 Summary (run %s)", s.RunID))
	logger.Info(fmt.Sprintf("🔎 Resolved: %d attachments from %d links", s.ResolvedCount, s.LinkRows))
	logger.Info(fmt.Sprintf("📦 Batches: %d", len(s.Batches)))
	if s.DryRun {
		logger.Info("🧪 Dry run: no files were downloaded")
	} else {
		logger.Info(fmt.Sprintf("✅ Successful: %d", s.Succeeded()))
	}
	if failed := s.Failed(); failed > 0 {
		logger.Info(fmt.Sprintf("❌ Failed: %d", failed))
	}
	if skipped := s.SkippedBatches(); skipped > 0 {
		logger.Info(fmt.Sprintf("⏭️  Skipped batches: %d", skipped))
	}
	if s.MirrorErrors > 0 {
		logger.Info(fmt.Sprintf("☁️  Mirror errors: %d", s.MirrorErrors))
	}
	if s.Bytes > 0 {
		logger.Info(fmt.Sprintf("💾 Total downloaded: %.2f MB", float64(s.Bytes)/(1024*1024)))
	}
	if !s.FinishedAt.IsZero() {
		logger.Info(fmt.Sprintf("⏱️  Duration: %s", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond)))
	}

	for _, b := range s.Batches {
		if b.Err != nil {
			logger.Error(fmt.Sprintf("❌ %v", b.Err))
		}
	}
	for _, f := range s.Failures {
		logger.Error(fmt.Sprintf("❌ %s: %s", f.AttachmentID, f.Reason()))
	}
}
