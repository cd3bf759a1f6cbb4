// Package thumbnail extracts a still frame from a video and encodes it as a
// JPEG. Every extraction runs its own decoder, so concurrent calls never share
// seek or draw state.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

var (
	// ErrThumbnailSourceMissing means the video could not be opened or probed.
	ErrThumbnailSourceMissing = errors.New("thumbnail source missing")
	// ErrRasterContextUnavailable means no frame could be rasterized.
	ErrRasterContextUnavailable = errors.New("raster context unavailable")
	// ErrThumbnailEncodeFailed means encoding produced no data.
	ErrThumbnailEncodeFailed = errors.New("thumbnail encode failed")
	// ErrDecoderUnavailable is returned by decoders whose binaries are absent.
	ErrDecoderUnavailable = errors.New("video decoder unavailable")
)

// seekMargin keeps a clamped seek strictly inside the stream.
const seekMargin = 100 * time.Millisecond

// Metadata is what a decoder knows about a source before seeking.
type Metadata struct {
	Width    int
	Height   int
	Duration time.Duration
}

// Decoder is the platform media-decoding facility.
type Decoder interface {
	Probe(ctx context.Context, source string) (Metadata, error)
	Frame(ctx context.Context, source string, at time.Duration) (image.Image, error)
}

// FrameExtractor returns an encoded still captured at the given offset.
type FrameExtractor interface {
	ExtractFrameAt(ctx context.Context, source string, at time.Duration) ([]byte, error)
}

// Generator implements FrameExtractor on top of a Decoder.
type Generator struct {
	decoder Decoder
	quality int
	log     *zap.Logger
}

// NewGenerator builds a Generator that encodes JPEGs at quality (1-100).
func NewGenerator(decoder Decoder, quality int, log *zap.Logger) *Generator {
	return &Generator{decoder: decoder, quality: quality, log: log}
}

// ExtractFrameAt probes the source, seeks to at (clamped to the duration),
// draws the frame onto a canvas of the native size and encodes it.
func (g *Generator) ExtractFrameAt(ctx context.Context, source string, at time.Duration) ([]byte, error) {
	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrThumbnailSourceMissing, err)
	}
	// metadata must be known before seeking
	meta, err := g.decoder.Probe(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: probe: %v", ErrThumbnailSourceMissing, err)
	}
	seek := ClampSeek(at, meta.Duration)
	g.log.Debug("extracting frame",
		zap.String("source", source),
		zap.Duration("requested", at),
		zap.Duration("seek", seek),
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height))

	frame, err := g.decoder.Frame(ctx, source, seek)
	if err != nil {
		if errors.Is(err, ErrDecoderUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrThumbnailSourceMissing, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrRasterContextUnavailable, err)
	}
	canvas, err := rasterize(frame, meta.Width, meta.Height)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(g.quality)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrThumbnailEncodeFailed, err)
	}
	if buf.Len() == 0 {
		return nil, ErrThumbnailEncodeFailed
	}
	return buf.Bytes(), nil
}

// ClampSeek keeps the seek offset inside a stream of the given duration. An
// unknown duration (zero) leaves the offset untouched.
func ClampSeek(at, duration time.Duration) time.Duration {
	if at < 0 {
		return 0
	}
	if duration <= 0 || at < duration {
		return at
	}
	clamped := duration - seekMargin
	if clamped < 0 {
		return 0
	}
	return clamped
}

// rasterize draws frame onto an RGBA canvas sized to the native dimensions,
// falling back to the frame's own bounds when the probe reported none.
func rasterize(frame image.Image, width, height int) (*image.RGBA, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: no frame decoded", ErrRasterContextUnavailable)
	}
	src := frame.Bounds()
	if width <= 0 || height <= 0 {
		width, height = src.Dx(), src.Dy()
	}
	if width <= 0 || height <= 0 || src.Empty() {
		return nil, fmt.Errorf("%w: zero sized frame", ErrRasterContextUnavailable)
	}
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	if src.Dx() == width && src.Dy() == height {
		draw.Copy(canvas, image.Point{}, frame, src, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(canvas, canvas.Bounds(), frame, src, draw.Src, nil)
	}
	return canvas, nil
}
