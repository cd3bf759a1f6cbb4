// Package processing runs video thumbnail extraction on a bounded worker pool
// so a batch can prepare its stills while earlier items are still uploading.
package processing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/metrics"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/thumbnail"
)

// Job asks for a thumbnail of the item at Position in the batch.
type Job struct {
	Position int
	Item     model.MediaItem
}

// Result carries the encoded still or the reason there is none.
type Result struct {
	Position  int
	Thumbnail []byte
	Err       error
}

// Processor fans Jobs out to a fixed number of workers.
type Processor struct {
	frames  thumbnail.FrameExtractor
	offset  time.Duration
	workers int
	log     *zap.Logger
}

// New builds a Processor. workers below one are treated as one.
func New(frames thumbnail.FrameExtractor, offset time.Duration, workers int, log *zap.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		frames:  frames,
		offset:  offset,
		workers: workers,
		log:     log,
	}
}

// Batch hands out results by position.
type Batch struct {
	results []chan Result
	jobs    map[int]bool
}

// Wait blocks until the result at position is ready. Positions that were
// never submitted report ok=false immediately.
func (b *Batch) Wait(ctx context.Context, position int) (Result, bool) {
	if !b.jobs[position] {
		return Result{}, false
	}
	select {
	case res := <-b.results[position]:
		return res, true
	case <-ctx.Done():
		return Result{Position: position, Err: ctx.Err()}, true
	}
}

// Start queues a thumbnail job for every video in items and returns at once.
// Workers stop when ctx is cancelled.
func (p *Processor) Start(ctx context.Context, items []model.MediaItem) *Batch {
	batch := &Batch{
		results: make([]chan Result, len(items)),
		jobs:    make(map[int]bool),
	}
	queue := make(chan Job, len(items))
	for i, item := range items {
		// buffered so a worker never waits on a slow consumer
		batch.results[i] = make(chan Result, 1)
		if item.FileType != model.FileTypeVideo {
			continue
		}
		batch.jobs[i] = true
		queue <- Job{Position: i, Item: item}
	}
	close(queue)

	workers := p.workers
	if len(batch.jobs) < workers {
		workers = len(batch.jobs)
	}
	for w := 0; w < workers; w++ {
		go p.worker(ctx, queue, batch)
	}
	return batch
}

func (p *Processor) worker(ctx context.Context, queue <-chan Job, batch *Batch) {
	for job := range queue {
		if ctx.Err() != nil {
			batch.results[job.Position] <- Result{Position: job.Position, Err: ctx.Err()}
			continue
		}
		batch.results[job.Position] <- p.process(ctx, job)
	}
}

func (p *Processor) process(ctx context.Context, job Job) Result {
	start := time.Now()
	data, err := p.frames.ExtractFrameAt(ctx, job.Item.File.Path, p.offset)
	metrics.ThumbnailDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ThumbnailFailures.WithLabelValues(FailureReason(err)).Inc()
		p.log.Warn("thumbnail generation failed",
			zap.String("name", job.Item.Name),
			zap.Int("index", job.Item.Index),
			zap.Error(err))
		return Result{Position: job.Position, Err: err}
	}
	metrics.ThumbnailsGenerated.Inc()
	return Result{Position: job.Position, Thumbnail: data}
}

// FailureReason maps a thumbnail error onto a short metrics label.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, thumbnail.ErrThumbnailSourceMissing):
		return "source_missing"
	case errors.Is(err, thumbnail.ErrRasterContextUnavailable):
		return "raster_unavailable"
	case errors.Is(err, thumbnail.ErrThumbnailEncodeFailed):
		return "encode_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
