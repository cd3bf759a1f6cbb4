// Package blobstore stores media bytes under hierarchical keys and turns the
// stored references into URLs a browser can fetch.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/config"
)

// ErrNotFound is returned when a reference does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is the blob store contract used by the upload pipeline, the gallery
// download route and the landing surface.
type Store interface {
	// Put writes size bytes from r under key and returns a reference.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// URL resolves a reference to a durable URL.
	URL(ctx context.Context, ref string) (string, error)
	// List returns every key under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Open streams a stored object.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// New picks the driver named in cfg.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (Store, error) {
	switch cfg.BlobDriver {
	case config.BlobDriverMinio:
		store, err := NewMinio(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		log.Info("blob store ready", zap.String("driver", cfg.BlobDriver), zap.String("bucket", cfg.Bucket))
		return store, nil
	case config.BlobDriverS3:
		store, err := NewS3(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("blob store ready", zap.String("driver", cfg.BlobDriver), zap.String("bucket", cfg.Bucket))
		return store, nil
	case config.BlobDriverMemory:
		return NewMemory(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.BlobDriver)
	}
}

// publicURL joins a base URL and an object key, escaping each path segment.
func publicURL(base, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.Join(segments, "/")
}
