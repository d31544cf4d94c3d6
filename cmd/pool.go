package cmd

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DownloadFunc performs one download and reports its outcome
type DownloadFunc func(ctx context.Context, meta AttachmentMetadata) DownloadOutcome

type downloadJob struct {
	meta    AttachmentMetadata
	batch   int
	results chan<- DownloadOutcome
}

// DownloadPool is a fixed set of workers fed through a bounded queue.
// It lives for a whole run; each batch waits only for its own jobs.
type DownloadPool struct {
	ctx       context.Context
	jobs      chan downloadJob
	group     errgroup.Group
	download  DownloadFunc
	closeOnce sync.Once
}

// NewDownloadPool starts workers goroutines. queueSize bounds how many jobs
// may wait for a free worker before submission blocks.
func NewDownloadPool(ctx context.Context, workers, queueSize int, download DownloadFunc) *DownloadPool {
	workers = max(workers, 1)
	queueSize = max(queueSize, 0)

	p := &DownloadPool{
		ctx:      ctx,
		jobs:     make(chan downloadJob, queueSize),
		download: download,
	}
	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}
	return p
}

func (p *DownloadPool) work() error {
	for job := range p.jobs {
		outcome := p.download(p.ctx, job.meta)
		outcome.Batch = job.batch
		job.results <- outcome
	}
	return nil
}

// RunBatch submits every item of one batch and blocks until all of their
// outcomes are in. onOutcome, when set, is called for each outcome as it
// arrives, from the calling goroutine. Items that could not be submitted
// because ctx was cancelled are reported as failures.
func (p *DownloadPool) RunBatch(ctx context.Context, batch int, metas []AttachmentMetadata, onOutcome func(DownloadOutcome)) []DownloadOutcome {
	results := make(chan DownloadOutcome, len(metas))
	outcomes := make([]DownloadOutcome, 0, len(metas))

	submitted := 0
submit:
	for _, meta := range metas {
		select {
		case p.jobs <- downloadJob{meta: meta, batch: batch, results: results}:
			submitted++
		case <-ctx.Done():
			break submit
		}
	}

	for _, meta := range metas[submitted:] {
		outcome := DownloadOutcome{
			AttachmentID: meta.ID,
			Title:        meta.Title,
			Batch:        batch,
			Err:          &DownloadFailure{AttachmentID: meta.ID, Err: ctx.Err()},
		}
		outcomes = append(outcomes, outcome)
		if onOutcome != nil {
			onOutcome(outcome)
		}
	}

	for i := 0; i < submitted; i++ {
		outcome := <-results
		outcomes = append(outcomes, outcome)
		if onOutcome != nil {
			onOutcome(outcome)
		}
	}

	return outcomes
}

// Close stops accepting work and waits for the workers to exit
func (p *DownloadPool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
	_ = p.group.Wait()
}
