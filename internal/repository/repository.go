// Package repository persists media records in the document collection and
// pushes change events to subscribers.
package repository

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/config"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/database"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("media record not found")

// Collection is the document collection holding one record per upload.
type Collection interface {
	// Create stores rec, assigning ID and CreatedAt server side.
	Create(ctx context.Context, rec *model.MediaRecord) error
	// List returns every record, newest first with ties broken by id.
	List(ctx context.Context) ([]model.MediaRecord, error)
	Get(ctx context.Context, id string) (*model.MediaRecord, error)
	// Subscribe streams changes until ctx is cancelled, then closes the channel.
	Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error)
}

// New opens the collection driver named in cfg. The returned func releases
// the underlying connections.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (Collection, func(), error) {
	switch cfg.CollectionDriver {
	case config.CollectionDriverPostgres:
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.EnsureSchema(ctx, pool, cfg.Collection); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("collection ready", zap.String("driver", cfg.CollectionDriver), zap.String("collection", cfg.Collection))
		return NewPostgres(pool, cfg.Collection, log), pool.Close, nil
	case config.CollectionDriverMongo:
		coll, closeFn, err := ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.Collection)
		if err != nil {
			return nil, nil, err
		}
		log.Info("collection ready", zap.String("driver", cfg.CollectionDriver), zap.String("collection", cfg.Collection))
		return NewMongo(coll, log), closeFn, nil
	case config.CollectionDriverMemory:
		return NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown collection driver %q", cfg.CollectionDriver)
	}
}
