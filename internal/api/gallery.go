package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/blobstore"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/gallery"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/repository"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub != nil {
		if tiles, ok := s.deps.Hub.Snapshot(); ok {
			s.respondJSON(w, http.StatusOK, map[string]interface{}{"tiles": tiles})
			return
		}
	}
	records, err := s.deps.Docs.List(r.Context())
	if err != nil {
		s.log.Error("list gallery", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load gallery")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"tiles": gallery.NewView(records).Tiles()})
}

type galleryItem struct {
	Record model.MediaRecord `json:"record"`
	Tile   gallery.Tile      `json:"tile"`
}

func (s *Server) handleGalleryItem(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Docs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.recordError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, galleryItem{Record: *rec, Tile: gallery.TileFor(*rec)})
}

// handleDownload re-fetches the original bytes and serves them as an
// attachment under the uploaded file name.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Docs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.recordError(w, err)
		return
	}
	body, err := s.deps.Blobs.Open(r.Context(), rec.Path)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "media not found")
			return
		}
		s.log.Error("open media", zap.String("id", rec.ID), zap.Error(err))
		s.respondError(w, http.StatusBadGateway, "failed to fetch media")
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.Name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.log.Warn("stream download", zap.String("id", rec.ID), zap.Error(err))
	}
}

// handleLive streams the full tile list on connect and after every change.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		s.respondError(w, http.StatusServiceUnavailable, "live gallery disabled")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	client := s.deps.Hub.Subscribe()
	defer s.deps.Hub.Unsubscribe(client)

	// the reader only exists to notice the peer going away
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case tiles, ok := <-client.Updates():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(map[string]interface{}{"tiles": tiles}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) recordError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "media not found")
		return
	}
	s.log.Error("load media record", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, "failed to load media")
}
