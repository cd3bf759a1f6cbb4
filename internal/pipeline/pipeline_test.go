package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/blobstore"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/config"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/repository"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/thumbnail"
)

type fakeFrames struct {
	err error
}

func (f fakeFrames) ExtractFrameAt(ctx context.Context, source string, at time.Duration) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("\xff\xd8jpeg-of-" + filepath.Base(source)), nil
}

// flakyBlobs fails Put for keys containing failOn.
type flakyBlobs struct {
	*blobstore.MemoryStore
	failOn string
}

func (f *flakyBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return "", errors.New("network unreachable")
	}
	return f.MemoryStore.Put(ctx, key, r, size, contentType)
}

// flakyDocs fails the n-th Create (1-based).
type flakyDocs struct {
	*repository.MemoryCollection
	mu     sync.Mutex
	calls  int
	failAt int
}

func (f *flakyDocs) Create(ctx context.Context, rec *model.MediaRecord) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == f.failAt {
		return errors.New("permission denied")
	}
	return f.MemoryCollection.Create(ctx, rec)
}

func testConfig() *config.Config {
	return &config.Config{
		MediaPrefix:      "wedding-media/",
		ThumbnailPrefix:  "wedding-media/thumbnails/",
		ThumbnailOffset:  time.Second,
		ThumbnailQuality: 75,
		ProcessingPool:   2,
	}
}

func stage(t *testing.T, name, contentType string) model.MediaItem {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	data := []byte("bytes of " + name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return model.MediaItem{
		Name:     name,
		FileType: model.ClassifyContentType(contentType),
		File:     model.StagedFile{Path: path, Size: int64(len(data)), ContentType: contentType},
	}
}

func batch(t *testing.T, specs ...[2]string) []model.MediaItem {
	items := make([]model.MediaItem, 0, len(specs))
	for i, s := range specs {
		item := stage(t, s[0], s[1])
		item.Index = i
		items = append(items, item)
	}
	return items
}

func fixedStamper() *Stamper {
	return NewStamper(func() time.Time { return time.UnixMilli(1700000000000) })
}

func TestRunAllSucceed(t *testing.T) {
	blobs := blobstore.NewMemory("https://cdn.test")
	docs := repository.NewMemory()
	p := New(blobs, docs, fakeFrames{}, testConfig(), zap.NewNop(), WithStamper(fixedStamper()))

	items := batch(t,
		[2]string{"a.jpg", "image/jpeg"},
		[2]string{"b.png", "image/png"},
		[2]string{"dance.mp4", "video/mp4"},
	)
	res, err := p.Run(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)
	_, failed := res.Failure()
	assert.False(t, failed)

	stored, err := docs.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	recs := res.Records()
	assert.Equal(t, "a.jpg", recs[0].Name)
	assert.Nil(t, recs[0].ThumbnailURL)
	assert.Equal(t, model.FileTypeImage, recs[1].FileType)
	assert.Nil(t, recs[1].ThumbnailURL)
	assert.Equal(t, model.FileTypeVideo, recs[2].FileType)
	require.NotNil(t, recs[2].ThumbnailURL)
	assert.Equal(t, "https://cdn.test/wedding-media/thumbnails/1700000000002_dance.mp4.jpg", *recs[2].ThumbnailURL)

	assert.Equal(t, "https://cdn.test/wedding-media/1700000000000_a.jpg", recs[0].URL)
	assert.Equal(t, "https://cdn.test/wedding-media/1700000000001_b.png", recs[1].URL)
	assert.Equal(t, 4, blobs.Len())

	ct, ok := blobs.ContentType("wedding-media/1700000000002_dance.mp4")
	require.True(t, ok)
	assert.Equal(t, "video/mp4", ct)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	docs := &flakyDocs{MemoryCollection: repository.NewMemory(), failAt: 2}
	p := New(blobstore.NewMemory(""), docs, fakeFrames{}, testConfig(), zap.NewNop())

	items := batch(t,
		[2]string{"one.jpg", "image/jpeg"},
		[2]string{"two.jpg", "image/jpeg"},
		[2]string{"three.jpg", "image/jpeg"},
	)
	res, err := p.Run(context.Background(), items)
	require.ErrorIs(t, err, ErrUploadFailed)
	require.Len(t, res.Outcomes, 2)
	assert.True(t, res.Outcomes[0].Succeeded())

	failure, ok := res.Failure()
	require.True(t, ok)
	assert.Equal(t, 1, failure.Index)
	assert.Equal(t, StepRecord, failure.Step)
	assert.Contains(t, failure.Reason, "permission denied")

	stored, _ := docs.List(context.Background())
	require.Len(t, stored, 1, "earlier records stay, later items are not attempted")
	assert.Equal(t, "one.jpg", stored[0].Name)
	assert.Equal(t, 2, docs.calls)
}

func TestRunBlobFailure(t *testing.T) {
	blobs := &flakyBlobs{MemoryStore: blobstore.NewMemory(""), failOn: "second"}
	docs := repository.NewMemory()
	p := New(blobs, docs, fakeFrames{}, testConfig(), zap.NewNop())

	res, err := p.Run(context.Background(), batch(t,
		[2]string{"first.jpg", "image/jpeg"},
		[2]string{"second.jpg", "image/jpeg"},
	))
	require.ErrorIs(t, err, ErrUploadFailed)
	failure, ok := res.Failure()
	require.True(t, ok)
	assert.Equal(t, StepUpload, failure.Step)
	assert.Len(t, res.Records(), 1)
}

func TestRunThumbnailFailureDegrades(t *testing.T) {
	docs := repository.NewMemory()
	frames := fakeFrames{err: fmt.Errorf("decode: %w", thumbnail.ErrRasterContextUnavailable)}
	p := New(blobstore.NewMemory(""), docs, frames, testConfig(), zap.NewNop())

	res, err := p.Run(context.Background(), batch(t,
		[2]string{"clip.mov", "video/quicktime"},
		[2]string{"photo.jpg", "image/jpeg"},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Degraded)
	recs := res.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, model.FileTypeVideo, recs[0].FileType)
	assert.False(t, recs[0].HasThumbnail())
}

func TestRunDegradedCountsOnlyStoredVideos(t *testing.T) {
	blobs := &flakyBlobs{MemoryStore: blobstore.NewMemory(""), failOn: "clip.mov"}
	frames := fakeFrames{err: thumbnail.ErrThumbnailSourceMissing}
	p := New(blobs, repository.NewMemory(), frames, testConfig(), zap.NewNop())

	res, err := p.Run(context.Background(), batch(t, [2]string{"clip.mov", "video/quicktime"}))
	require.ErrorIs(t, err, ErrUploadFailed)
	failure, ok := res.Failure()
	require.True(t, ok)
	assert.Equal(t, StepUpload, failure.Step)
	assert.Zero(t, res.Degraded, "a video that was never stored is not degraded")
	assert.Empty(t, res.Records())
}

func TestRunThumbnailUploadFailureFailsItem(t *testing.T) {
	blobs := &flakyBlobs{MemoryStore: blobstore.NewMemory(""), failOn: "thumbnails/"}
	p := New(blobs, repository.NewMemory(), fakeFrames{}, testConfig(), zap.NewNop())

	res, err := p.Run(context.Background(), batch(t, [2]string{"clip.mp4", "video/mp4"}))
	require.ErrorIs(t, err, ErrUploadFailed)
	failure, _ := res.Failure()
	assert.Equal(t, StepThumbnail, failure.Step)
}

func TestRunEmptyBatch(t *testing.T) {
	p := New(blobstore.NewMemory(""), repository.NewMemory(), fakeFrames{}, testConfig(), zap.NewNop())
	res, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)
}

func TestRunMissingStagedFile(t *testing.T) {
	p := New(blobstore.NewMemory(""), repository.NewMemory(), fakeFrames{}, testConfig(), zap.NewNop())
	item := model.MediaItem{Name: "gone.jpg", FileType: model.FileTypeImage, File: model.StagedFile{Path: filepath.Join(t.TempDir(), "gone.jpg")}}
	res, err := p.Run(context.Background(), []model.MediaItem{item})
	require.ErrorIs(t, err, ErrUploadFailed)
	failure, _ := res.Failure()
	assert.Equal(t, StepOpen, failure.Step)
}

func TestStamperIsStrictlyIncreasing(t *testing.T) {
	s := fixedStamper()
	seen := make(map[int64]bool)
	var prev int64
	for i := 0; i < 100; i++ {
		ts := s.Next()
		assert.Greater(t, ts, prev)
		assert.False(t, seen[ts])
		seen[ts] = true
		prev = ts
	}
}
