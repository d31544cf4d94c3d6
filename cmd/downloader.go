package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/airframesio/sf-file-export/cmd/compressors"
)

// Downloader fetches one attachment payload and writes it to disk
type Downloader struct {
	blobs      BlobFetcher
	paths      PathBuilder
	compressor compressors.Compressor
	level      int
	mirror     Mirror
	logger     *slog.Logger
}

// NewDownloader creates a download worker. compressor may be nil for no
// compression and mirror may be nil when nothing is mirrored.
func NewDownloader(blobs BlobFetcher, paths PathBuilder, compressor compressors.Compressor, level int, mirror Mirror, logger *slog.Logger) *Downloader {
	if compressor == nil {
		compressor = compressors.NewNoneCompressor()
		level = 0
	}
	return &Downloader{
		blobs:      blobs,
		paths:      paths,
		compressor: compressor,
		level:      level,
		mirror:     mirror,
		logger:     logger,
	}
}

// Download performs one GET and writes the body to the attachment's path,
// overwriting any existing file. Failures are returned inside the outcome.
func (d *Downloader) Download(ctx context.Context, meta AttachmentMetadata) (outcome DownloadOutcome) {
	started := time.Now()
	outcome = DownloadOutcome{
		AttachmentID: meta.ID,
		Title:        meta.Title,
		URL:          d.blobs.BlobURL(meta.PayloadLocator),
		Path:         d.paths.Path(meta.ID, meta.Title, meta.FileExtension),
	}
	defer func() {
		outcome.Duration = time.Since(started)
	}()

	d.logger.Debug(fmt.Sprintf("  ⬇️  %s -> %s", outcome.URL, outcome.Path))

	resp, err := d.blobs.Get(ctx, outcome.URL)
	if err != nil {
		failure := newDownloadFailure(meta.ID, outcome.URL, err)
		outcome.StatusCode = failure.StatusCode
		outcome.Err = failure
		return outcome
	}
	defer resp.Body.Close()
	outcome.StatusCode = resp.StatusCode

	written, err := d.writeFile(outcome.Path, resp.Body)
	if err != nil {
		outcome.Err = &DownloadFailure{AttachmentID: meta.ID, URL: outcome.URL, Err: err}
		return outcome
	}
	outcome.Success = true
	outcome.Bytes = written

	if d.mirror != nil {
		outcome.MirrorKey, outcome.MirrorErr = d.mirror.Upload(ctx, outcome.Path)
		if outcome.MirrorErr != nil {
			d.logger.Warn(fmt.Sprintf("⚠️  Mirror of %s failed: %v", outcome.Path, outcome.MirrorErr))
		}
	}

	return outcome
}

// writeFile streams body into a temp file beside target and renames it into
// place once complete. The temp file is removed on any failure.
func (d *Downloader) writeFile(target string, body io.Reader) (written int64, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".sf-file-export-*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w, err := d.compressor.NewWriter(tmp, d.level)
	if err != nil {
		return 0, fmt.Errorf("failed to create compressor: %w", err)
	}

	written, err = io.Copy(w, body)
	if err != nil {
		w.Close()
		return written, fmt.Errorf("failed to read payload: %w", err)
	}
	if err = w.Close(); err != nil {
		return written, fmt.Errorf("failed to finish compression: %w", err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return written, fmt.Errorf("failed to set file mode: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return written, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return written, fmt.Errorf("failed to move payload into place: %w", err)
	}
	return written, nil
}
