// Package worker runs queued batch uploads inside the asynq server.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/pipeline"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/queue"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/selection"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	stager   *selection.Stager
	pipeline *pipeline.Pipeline
	log      *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(stager *selection.Stager, p *pipeline.Pipeline, log *zap.Logger) *Processor {
	return &Processor{stager: stager, pipeline: p, log: log}
}

// Handler registers the upload job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.UploadBatchTask, p.HandleUpload)
	return mux
}

// HandleUpload loads the session, uploads it, records the BatchResult as the
// task result and discards the session whatever the outcome.
func (p *Processor) HandleUpload(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodePayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := p.log.With(zap.String("session", payload.SessionID))

	sess, err := p.stager.Session(payload.SessionID)
	if err != nil {
		if errors.Is(err, selection.ErrSessionNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	defer func() {
		if err := p.stager.Discard(sess.ID); err != nil {
			log.Warn("discard session", zap.Error(err))
		}
	}()
	if len(sess.Items) == 0 {
		log.Info("nothing to upload")
		return nil
	}

	result, runErr := p.pipeline.Run(ctx, sess.Items)
	if err := writeResult(task, result); err != nil {
		log.Warn("write task result", zap.Error(err))
	}
	if runErr != nil {
		log.Error("batch upload failed", zap.Error(runErr))
		return runErr
	}
	log.Info("batch upload finished", zap.Int("items", len(result.Outcomes)))
	return nil
}

func writeResult(task *asynq.Task, result *pipeline.BatchResult) error {
	rw := task.ResultWriter()
	if rw == nil || result == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = rw.Write(data)
	return err
}
