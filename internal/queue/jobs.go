// Package queue defines the asynq task used to upload a capture session in
// the background.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// UploadBatchTask uploads every item of a staged capture session.
	UploadBatchTask = "media:upload-batch"
	// QueueName is the asynq queue the task lands on.
	QueueName = "default"
	// resultRetention keeps finished tasks queryable through the inspector.
	resultRetention = 24 * time.Hour
)

// ErrTaskNotFound is returned for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// UploadPayload is serialized into the task payload so the worker knows which
// session manifest to load.
type UploadPayload struct {
	SessionID string `json:"session_id"`
}

// NewUploadTask builds the task. Uploads are never retried automatically.
func NewUploadTask(payload UploadPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(UploadBatchTask, data,
		asynq.MaxRetry(0),
		asynq.Queue(QueueName),
		asynq.Retention(resultRetention),
	), nil
}

// Enqueuer is the part of asynq.Client the API needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueBatchUpload schedules a session upload and returns the task id.
func EnqueueBatchUpload(ctx context.Context, client Enqueuer, payload UploadPayload) (string, error) {
	task, err := NewUploadTask(payload)
	if err != nil {
		return "", err
	}
	info, err := client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue upload task: %w", err)
	}
	return info.ID, nil
}

// DecodePayload reads an UploadPayload from a task.
func DecodePayload(task *asynq.Task) (UploadPayload, error) {
	var payload UploadPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.SessionID == "" {
		return payload, errors.New("payload has no session id")
	}
	return payload, nil
}

// Status is what GET /tasks/{id} reports.
type Status struct {
	ID     string          `json:"id"`
	State  string          `json:"state"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Inspector is the part of asynq.Inspector used for status lookups.
type Inspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// Lookup reports the state and result of an upload task.
func Lookup(inspector Inspector, id string) (*Status, error) {
	info, err := inspector.GetTaskInfo(QueueName, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("inspect task: %w", err)
	}
	st := &Status{ID: info.ID, State: info.State.String(), Error: info.LastErr}
	if len(info.Result) > 0 && json.Valid(info.Result) {
		st.Result = json.RawMessage(info.Result)
	}
	return st, nil
}
