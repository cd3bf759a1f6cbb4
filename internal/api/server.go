// Package api exposes the capture, upload, gallery and landing flows over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/blobstore"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/config"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/gallery"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/landing"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/metrics"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/pipeline"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/queue"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/repository"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/selection"
)

// Deps are the collaborators the HTTP layer drives. Tasks and Inspector may
// be nil, in which case queued uploads are unavailable.
type Deps struct {
	Stager    *selection.Stager
	Pipeline  *pipeline.Pipeline
	Docs      repository.Collection
	Blobs     blobstore.Store
	Landing   *landing.Service
	Hub       *gallery.Hub
	Tasks     queue.Enqueuer
	Inspector queue.Inspector
}

// Server exposes HTTP endpoints for guests.
type Server struct {
	cfg    *config.Config
	deps   Deps
	log    *zap.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps, log *zap.Logger) *Server {
	return &Server{cfg: cfg, deps: deps, log: log}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", zap.String("addr", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleLanding).Methods(http.MethodGet)

	r.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleDiscardSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/items", s.handleAddItems).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/items/{index:[0-9]+}", s.handleRemoveItem).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/preview/{handle}", s.handlePreview).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", s.handleTask).Methods(http.MethodGet)

	r.HandleFunc("/gallery", s.handleGallery).Methods(http.MethodGet)
	r.HandleFunc("/gallery/live", s.handleLive).Methods(http.MethodGet)
	r.HandleFunc("/gallery/{id}", s.handleGalleryItem).Methods(http.MethodGet)
	r.HandleFunc("/gallery/{id}/download", s.handleDownload).Methods(http.MethodGet)

	return corsMiddleware(s.loggingMiddleware(metrics.Middleware(r)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Landing.Page(r.Context()))
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, errorBody{Error: msg})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}
