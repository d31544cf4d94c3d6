package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/airframesio/sf-file-export/cmd/compressors"
	"github.com/airframesio/sf-file-export/cmd/formatters"
)

// Exporter runs the resolve, fetch and download pipeline for one run
type Exporter struct {
	config   *Config
	remote   RemoteService
	logger   *slog.Logger
	program  *tea.Program
	mirror   Mirror
	taskInfo *TaskInfo
}

// ExporterOption configures optional collaborators of an Exporter
type ExporterOption func(*Exporter)

// WithProgram sends progress messages to a running TUI
func WithProgram(program *tea.Program) ExporterOption {
	return func(e *Exporter) {
		e.program = program
	}
}

// WithMirror replaces the mirror built from the S3 configuration
func WithMirror(mirror Mirror) ExporterOption {
	return func(e *Exporter) {
		e.mirror = mirror
	}
}

// WithTaskInfo keeps the task info file current while the run progresses
func WithTaskInfo(info *TaskInfo) ExporterOption {
	return func(e *Exporter) {
		e.taskInfo = info
	}
}

// NewExporter creates an exporter; config must already be validated
func NewExporter(config *Config, remote RemoteService, logger *slog.Logger, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		config: config,
		remote: remote,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run resolves every attachment, then fetches and downloads them batch by
// batch. Only a resolution failure or cancellation is returned as an error;
// batch and item failures are reported in the summary.
func (e *Exporter) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.NewString(),
		DryRun:    e.config.DryRun,
		StartedAt: time.Now(),
	}
	e.logger.Debug(fmt.Sprintf("Run ID: %s", summary.RunID))

	compressor, err := compressors.GetCompressor(e.config.Compression)
	if err != nil {
		return nil, err
	}
	level := e.config.CompressionLevel
	if level == 0 {
		level = compressor.DefaultLevel()
	}

	paths := PathBuilder{
		Dir:     e.config.OutputDir,
		Dialect: ResolveDialect(FilenameDialect(e.config.Dialect)),
		Suffix:  compressor.Extension(),
	}

	mirror := e.mirror
	if mirror == nil && e.config.S3.Enabled() && !e.config.DryRun {
		s3Mirror, err := NewS3Mirror(e.config.S3, summary.RunID, summary.StartedAt, e.logger)
		if err != nil {
			return nil, err
		}
		mirror = s3Mirror
	}

	// Resolving
	e.send(phaseMsg{phase: PhaseResolving, message: "Resolving attachments..."})
	e.updateTask("Resolving attachments", 0, 0)

	resolution, err := NewResolver(e.remote, paths, e.logger).Resolve(ctx, BuildLinkQuery(e.config.Query))
	if err != nil {
		return nil, err
	}
	summary.ResolvedCount = resolution.IDs.Len()
	summary.LinkRows = resolution.LinkRows
	e.mirrorArtifact(ctx, mirror, resolution.MappingPath)

	batches, err := SplitIntoBatches(resolution.IDs.IDs(), e.config.BatchSize)
	if err != nil {
		return nil, err
	}
	e.send(resolvedMsg{attachments: summary.ResolvedCount, batches: len(batches)})
	if e.taskInfo != nil {
		e.taskInfo.TotalBatches = len(batches)
		e.taskInfo.TotalItems = summary.ResolvedCount
	}

	// Batch loop
	fetcher := NewMetadataFetcher(e.remote, e.config.BaseQuery, e.logger)
	downloader := NewDownloader(e.remote, paths, compressor, level, mirror, e.logger)
	pool := NewDownloadPool(ctx, e.config.Workers, e.config.Workers*2, downloader.Download)
	defer pool.Close()

	var rows []formatters.ReportRow
	for i, ids := range batches {
		if err := ctx.Err(); err != nil {
			summary.FinishedAt = time.Now()
			return summary, err
		}

		index := i + 1
		e.logger.Info(fmt.Sprintf("📦 Processing batch %d/%d (%d attachments)", index, len(batches), len(ids)))
		e.send(batchStartMsg{index: index, total: len(batches), size: len(ids)})
		e.updateTask(fmt.Sprintf("Processing batch %d/%d", index, len(batches)), index, len(batches))

		batch := BatchSummary{Index: index, Size: len(ids)}
		metas, err := fetcher.FetchBatch(ctx, index, ids)
		if err != nil {
			if ctx.Err() != nil {
				summary.FinishedAt = time.Now()
				return summary, ctx.Err()
			}
			e.logger.Error(fmt.Sprintf("❌ Skipping batch %d: %v", index, err))
			batch.Err = err
			summary.recordBatch(batch, nil)
			e.send(batchDoneMsg{batch: batch})
			continue
		}
		batch.Fetched = len(metas)
		e.logger.Debug(fmt.Sprintf("Batch %d query found %d results", index, len(metas)))

		if e.config.DryRun {
			for _, meta := range metas {
				e.logger.Info(fmt.Sprintf("  🧪 Would download %s -> %s",
					e.remote.BlobURL(meta.PayloadLocator), paths.Path(meta.ID, meta.Title, meta.FileExtension)))
			}
			summary.recordBatch(batch, nil)
			e.send(batchDoneMsg{batch: batch})
			continue
		}

		outcomes := pool.RunBatch(ctx, index, metas, func(outcome DownloadOutcome) {
			e.logOutcome(outcome)
			e.send(outcomeMsg{outcome: outcome})
		})
		for _, outcome := range outcomes {
			rows = append(rows, reportRow(summary.RunID, outcome, resolution.Parents))
		}
		summary.recordBatch(batch, outcomes)
		e.send(batchDoneMsg{batch: summary.Batches[len(summary.Batches)-1]})
		e.logger.Debug(fmt.Sprintf("All files in batch %d processed", index))
	}
	pool.Close()

	if !e.config.DryRun && e.config.ReportFormat != formatters.FormatNone && e.config.ReportFormat != "" {
		path, err := writeReport(e.config.OutputDir, e.config.ReportFormat, rows)
		if err != nil {
			e.logger.Warn(fmt.Sprintf("⚠️  %v", err))
		} else {
			e.logger.Info(fmt.Sprintf("📝 Report written to %s", path))
			e.mirrorArtifact(ctx, mirror, path)
		}
	}

	summary.FinishedAt = time.Now()
	e.updateTask("Complete", len(batches), len(batches))
	e.send(completeMsg{summary: summary})

	return summary, ctx.Err()
}

func (e *Exporter) logOutcome(outcome DownloadOutcome) {
	if outcome.Success {
		e.logger.Debug(fmt.Sprintf("  ✅ Saved %s to %s (%d bytes)", outcome.AttachmentID, outcome.Path, outcome.Bytes))
	} else {
		e.logger.Warn(fmt.Sprintf("  ❌ %s", outcome.Reason()))
	}
	if e.taskInfo != nil {
		e.taskInfo.CompletedItems++
		if !outcome.Success {
			e.taskInfo.FailedItems++
		}
	}
}

func (e *Exporter) mirrorArtifact(ctx context.Context, mirror Mirror, path string) {
	if mirror == nil {
		return
	}
	if _, err := mirror.Upload(ctx, path); err != nil {
		e.logger.Warn(fmt.Sprintf("⚠️  Mirror of %s failed: %v", path, err))
	}
}

func (e *Exporter) send(msg tea.Msg) {
	if e.program != nil {
		e.program.Send(msg)
	}
}

func (e *Exporter) updateTask(task string, batch, total int) {
	if e.taskInfo == nil {
		return
	}
	e.taskInfo.CurrentTask = task
	e.taskInfo.CurrentBatch = batch
	if total > 0 {
		e.taskInfo.Progress = float64(batch) / float64(total)
	}
	if err := WriteTaskInfo(e.taskInfo); err != nil {
		e.logger.Debug(fmt.Sprintf("Failed to write task info: %v", err))
	}
}
