// Package pipeline uploads a batch of staged media items: an optional video
// still, the original bytes and one collection record per item.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/blobstore"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/config"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/metrics"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/processing"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/repository"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/thumbnail"
)

// ErrUploadFailed is the single batch-level failure. The item-level cause is
// in the BatchResult.
var ErrUploadFailed = errors.New("upload failed")

// FailureMessage is what guests see when a batch fails.
const FailureMessage = "Upload failed. Please try again."

// Step names where an item failed.
const (
	StepThumbnail = "thumbnail"
	StepOpen      = "open"
	StepUpload    = "upload"
	StepURL       = "url"
	StepRecord    = "record"
)

// Outcome is the result for one item: a record on success, a step and reason
// on failure.
type Outcome struct {
	Index  int                `json:"index"`
	Name   string             `json:"name"`
	Record *model.MediaRecord `json:"record,omitempty"`
	Step   string             `json:"step,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// Succeeded reports whether the item was persisted.
func (o Outcome) Succeeded() bool {
	return o.Record != nil
}

// BatchResult lists outcomes in item order. It holds at most one failure,
// always last.
type BatchResult struct {
	Outcomes []Outcome `json:"outcomes"`
	// Degraded counts videos stored without a thumbnail.
	Degraded int `json:"degraded"`
}

// Records returns the persisted records in upload order.
func (b *BatchResult) Records() []model.MediaRecord {
	out := make([]model.MediaRecord, 0, len(b.Outcomes))
	for _, o := range b.Outcomes {
		if o.Succeeded() {
			out = append(out, *o.Record)
		}
	}
	return out
}

// Failure returns the failed outcome, if any.
func (b *BatchResult) Failure() (Outcome, bool) {
	if n := len(b.Outcomes); n > 0 && !b.Outcomes[n-1].Succeeded() {
		return b.Outcomes[n-1], true
	}
	return Outcome{}, false
}

// Stamper hands out millisecond timestamps that never repeat within a
// process, so <ts>_<name> keys cannot collide.
type Stamper struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewStamper builds a Stamper on the given clock.
func NewStamper(now func() time.Time) *Stamper {
	return &Stamper{now: now}
}

var defaultStamper = NewStamper(time.Now)

// Next returns a millisecond timestamp greater than every earlier one.
func (s *Stamper) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return ms
}

// Pipeline wires the blob store, the collection and the thumbnail pool.
type Pipeline struct {
	blobs blobstore.Store
	docs  repository.Collection
	proc  *processing.Processor
	cfg   *config.Config
	stamp *Stamper
	log   *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithStamper replaces the process-wide timestamp source.
func WithStamper(s *Stamper) Option {
	return func(p *Pipeline) { p.stamp = s }
}

// New builds a Pipeline. All backends come from the caller.
func New(blobs blobstore.Store, docs repository.Collection, frames thumbnail.FrameExtractor, cfg *config.Config, log *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		blobs: blobs,
		docs:  docs,
		proc:  processing.New(frames, cfg.ThumbnailOffset, cfg.ProcessingPool, log),
		cfg:   cfg,
		stamp: defaultStamper,
		log:   log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run uploads items strictly in order. The first failing item stops the
// batch; records written before it are kept. Video thumbnails are extracted
// ahead of time on the processing pool, and a failed extraction only drops
// the thumbnail.
func (p *Pipeline) Run(ctx context.Context, items []model.MediaItem) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{Outcomes: make([]Outcome, 0, len(items))}
	if len(items) == 0 {
		return result, nil
	}

	thumbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	thumbs := p.proc.Start(thumbCtx, items)

	for pos, item := range items {
		rec, degraded, step, err := p.upload(ctx, pos, item, thumbs)
		if err != nil {
			metrics.UploadItemsTotal.WithLabelValues(string(item.FileType), "failure").Inc()
			metrics.UploadBatchesTotal.WithLabelValues("failure").Inc()
			p.log.Error("upload failed",
				zap.Int("index", item.Index),
				zap.String("name", item.Name),
				zap.String("step", step),
				zap.Int("persisted", pos),
				zap.Error(err))
			result.Outcomes = append(result.Outcomes, Outcome{
				Index:  item.Index,
				Name:   item.Name,
				Step:   step,
				Reason: err.Error(),
			})
			return result, fmt.Errorf("%w: %s %s: %v", ErrUploadFailed, item.Name, step, err)
		}
		if degraded {
			result.Degraded++
		}
		metrics.UploadItemsTotal.WithLabelValues(string(item.FileType), "success").Inc()
		result.Outcomes = append(result.Outcomes, Outcome{Index: item.Index, Name: item.Name, Record: rec})
	}

	metrics.UploadBatchesTotal.WithLabelValues("success").Inc()
	metrics.UploadBatchDuration.Observe(time.Since(start).Seconds())
	p.log.Info("batch uploaded",
		zap.Int("items", len(items)),
		zap.Int("degraded", result.Degraded),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

func (p *Pipeline) upload(ctx context.Context, pos int, item model.MediaItem, thumbs *processing.Batch) (*model.MediaRecord, bool, string, error) {
	ts := p.stamp.Next()
	rec := &model.MediaRecord{Name: item.Name, FileType: item.FileType}
	degraded := false

	if item.FileType == model.FileTypeVideo {
		res, ok := thumbs.Wait(ctx, pos)
		switch {
		case !ok:
			degraded = true
		case res.Err != nil:
			if ctx.Err() != nil {
				return nil, false, StepThumbnail, ctx.Err()
			}
			degraded = true
			p.log.Warn("storing video without thumbnail", zap.String("name", item.Name), zap.Error(res.Err))
		default:
			key := fmt.Sprintf("%s%d_%s.jpg", p.cfg.ThumbnailPrefix, ts, item.Name)
			ref, url, err := p.put(ctx, key, bytes.NewReader(res.Thumbnail), int64(len(res.Thumbnail)), "image/jpeg")
			if err != nil {
				return nil, false, StepThumbnail, err
			}
			rec.ThumbnailPath = ref
			rec.ThumbnailURL = &url
		}
	}

	f, err := os.Open(item.File.Path)
	if err != nil {
		return nil, degraded, StepOpen, fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s%d_%s", p.cfg.MediaPrefix, ts, item.Name)
	ref, err := p.blobs.Put(ctx, key, f, item.File.Size, item.File.ContentType)
	if err != nil {
		return nil, degraded, StepUpload, err
	}
	metrics.UploadBytesTotal.Add(float64(item.File.Size))
	url, err := p.blobs.URL(ctx, ref)
	if err != nil {
		return nil, degraded, StepURL, err
	}
	rec.Path = ref
	rec.URL = url

	if err := p.docs.Create(ctx, rec); err != nil {
		return nil, degraded, StepRecord, err
	}
	p.log.Debug("item uploaded",
		zap.String("id", rec.ID),
		zap.String("name", rec.Name),
		zap.String("type", string(rec.FileType)),
		zap.Bool("thumbnail", rec.HasThumbnail()))
	return rec, degraded, "", nil
}

func (p *Pipeline) put(ctx context.Context, key string, r *bytes.Reader, size int64, contentType string) (string, string, error) {
	ref, err := p.blobs.Put(ctx, key, r, size, contentType)
	if err != nil {
		return "", "", err
	}
	metrics.UploadBytesTotal.Add(float64(size))
	url, err := p.blobs.URL(ctx, ref)
	if err != nil {
		return "", "", err
	}
	return ref, url, nil
}
