package gallery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/repository"
)

// ErrSubscriptionClosed is returned when the collection ends the stream
// before the viewer is cancelled.
var ErrSubscriptionClosed = errors.New("gallery subscription closed")

// Viewer keeps a View in sync with the collection.
type Viewer struct {
	docs repository.Collection
	log  *zap.Logger
}

// NewViewer builds a Viewer.
func NewViewer(docs repository.Collection, log *zap.Logger) *Viewer {
	return &Viewer{docs: docs, log: log}
}

// Run subscribes, renders the snapshot, then re-renders on every change
// until ctx is cancelled. Cancelling ctx unsubscribes.
func (v *Viewer) Run(ctx context.Context, onChange func([]Tile)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// subscribe before the snapshot so no insert falls in between
	events, err := v.docs.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	snapshot, err := v.docs.List(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	view := NewView(snapshot)
	onChange(view.Tiles())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrSubscriptionClosed
			}
			if view.Apply(ev) {
				v.log.Debug("gallery changed", zap.String("kind", string(ev.Kind)), zap.String("id", ev.Record.ID))
				onChange(view.Tiles())
			}
		}
	}
}
