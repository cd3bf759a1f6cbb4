package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/pipeline"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/queue"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/selection"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/signing"
)

type itemView struct {
	Index      int            `json:"index"`
	Name       string         `json:"name"`
	FileType   model.FileType `json:"fileType"`
	Size       int64          `json:"size"`
	PreviewURL string         `json:"previewUrl"`
}

type sessionView struct {
	ID    string     `json:"id"`
	Items []itemView `json:"items"`
}

func viewItems(items []model.MediaItem) []itemView {
	out := make([]itemView, 0, len(items))
	for _, it := range items {
		out = append(out, itemView{
			Index:      it.Index,
			Name:       it.Name,
			FileType:   it.FileType,
			Size:       it.File.Size,
			PreviewURL: "/preview/" + it.PreviewHandle,
		})
	}
	return out
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Stager.NewSession()
	if err != nil {
		s.log.Error("create session", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to start capture session")
		return
	}
	s.respondJSON(w, http.StatusCreated, sessionView{ID: sess.ID, Items: viewItems(sess.Items)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Stager.Session(mux.Vars(r)["id"])
	if err != nil {
		s.selectionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sessionView{ID: sess.ID, Items: viewItems(sess.Items)})
}

// handleAddItems stages every "file" part of a multipart body in order. A
// body without file parts is an empty selection and changes nothing.
func (s *Server) handleAddItems(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.deps.Stager.Session(id); err != nil {
		s.selectionError(w, err)
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	added := make([]model.MediaItem, 0)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		items, err := s.deps.Stager.Select(r.Context(), id, []selection.Source{{
			Name:        part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Reader:      part,
		}})
		part.Close()
		if err != nil {
			s.selectionError(w, err)
			return
		}
		added = append(added, items...)
	}
	if len(added) == 0 {
		// an empty pick leaves the session untouched
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": viewItems(added)})
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "bad item index")
		return
	}
	if err := s.deps.Stager.Remove(vars["id"], index); err != nil {
		s.selectionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiscardSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Stager.Discard(mux.Vars(r)["id"]); err != nil {
		s.selectionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	f, item, err := s.deps.Stager.Open(mux.Vars(r)["handle"])
	if err != nil {
		s.selectionError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read staged file")
		return
	}
	w.Header().Set("Content-Type", item.File.ContentType)
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, item.Name, info.ModTime(), f)
}

type uploadResponse struct {
	Status   string             `json:"status"`
	Redirect string             `json:"redirect,omitempty"`
	Message  string             `json:"message,omitempty"`
	Outcomes []pipeline.Outcome `json:"outcomes"`
	Degraded int                `json:"degraded"`
}

// handleUpload runs the batch. The run is detached from the request so a
// guest navigating away does not abort it. On success the session is
// released; on failure it is kept so the guest can try again.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.deps.Stager.Session(id)
	if err != nil {
		s.selectionError(w, err)
		return
	}
	if len(sess.Items) == 0 {
		s.respondError(w, http.StatusBadRequest, selection.ErrSelectionEmpty.Error())
		return
	}
	if r.URL.Query().Get("async") == "true" {
		s.enqueueUpload(w, r, sess.ID)
		return
	}

	result, err := s.deps.Pipeline.Run(context.WithoutCancel(r.Context()), sess.Items)
	if err != nil {
		s.respondJSON(w, http.StatusBadGateway, uploadResponse{
			Status:   "error",
			Message:  pipeline.FailureMessage,
			Outcomes: result.Outcomes,
			Degraded: result.Degraded,
		})
		return
	}
	if err := s.deps.Stager.Discard(sess.ID); err != nil {
		s.log.Warn("discard session", zap.String("session", sess.ID), zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, uploadResponse{
		Status:   "ok",
		Redirect: "/",
		Outcomes: result.Outcomes,
		Degraded: result.Degraded,
	})
}

func (s *Server) enqueueUpload(w http.ResponseWriter, r *http.Request, sessionID string) {
	if s.deps.Tasks == nil {
		s.respondError(w, http.StatusServiceUnavailable, "queued uploads are not enabled")
		return
	}
	taskID, err := queue.EnqueueBatchUpload(r.Context(), s.deps.Tasks, queue.UploadPayload{SessionID: sessionID})
	if err != nil {
		s.log.Error("enqueue upload", zap.String("session", sessionID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to queue upload")
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"taskId": taskID,
		"status": "queued",
		"poll":   "/tasks/" + taskID,
	})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Inspector == nil {
		s.respondError(w, http.StatusServiceUnavailable, "queued uploads are not enabled")
		return
	}
	st, err := queue.Lookup(s.deps.Inspector, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			s.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		s.log.Error("inspect task", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to inspect task")
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) selectionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, selection.ErrSessionNotFound), errors.Is(err, selection.ErrItemNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, selection.ErrFileTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, selection.ErrEmptyFile), errors.Is(err, selection.ErrSelectionEmpty):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, signing.ErrExpiredToken):
		s.respondError(w, http.StatusGone, "preview expired")
	case errors.Is(err, signing.ErrMalformedToken), errors.Is(err, signing.ErrInvalidToken):
		s.respondError(w, http.StatusForbidden, "invalid preview handle")
	default:
		s.log.Error("selection", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}
