// Package app assembles the backends shared by the server, the worker and
// the CLI from a Config.
package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/blobstore"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/config"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/landing"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/pipeline"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/repository"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/selection"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/signing"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/thumbnail"
)

// Backends are the long lived collaborators built from configuration.
type Backends struct {
	Blobs    blobstore.Store
	Docs     repository.Collection
	Stager   *selection.Stager
	Pipeline *pipeline.Pipeline
	closers  []func()
}

// Close releases connections in reverse order of creation.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// Build connects the blob store and the collection, and wires the staging
// area and the upload pipeline on top of them.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Backends, error) {
	b := &Backends{}
	blobs, err := blobstore.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}
	b.Blobs = blobs

	docs, closeDocs, err := repository.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init collection: %w", err)
	}
	b.Docs = docs
	b.closers = append(b.closers, closeDocs)

	stager, err := selection.NewStager(cfg.StagingDir, cfg.MaxFileSize, signing.NewSigner(cfg.SigningSecret), cfg.PreviewTokenTTL, log)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Stager = stager

	frames := thumbnail.NewGenerator(thumbnail.NewFFmpegDecoder(cfg.FFmpegPath, cfg.FFprobePath), cfg.ThumbnailQuality, log)
	b.Pipeline = pipeline.New(blobs, docs, frames, cfg, log)
	return b, nil
}

// RedisOpt is the asynq connection for the configured Redis.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// LandingCache returns the configured landing cache and a func closing any
// connection it opened.
func LandingCache(cfg *config.Config) (landing.Cache, func()) {
	if cfg.CacheDriver == config.CacheDriverMemory {
		return landing.NewMemoryCache(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return landing.NewRedisCache(client), func() { _ = client.Close() }
}

// Landing builds the landing service over the given blob store.
func Landing(cfg *config.Config, blobs blobstore.Store, cache landing.Cache, log *zap.Logger) *landing.Service {
	return landing.NewService(blobs, cache, cfg.CacheKey(), cfg.HomePagePrefix, cfg.Title, log)
}
