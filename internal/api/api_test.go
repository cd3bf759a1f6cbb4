package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/blobstore"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/config"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/gallery"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/landing"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/pipeline"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/repository"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/selection"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/signing"
)

type stillFrames struct{}

func (stillFrames) ExtractFrameAt(context.Context, string, time.Duration) ([]byte, error) {
	return []byte("\xff\xd8\xff\xe0still"), nil
}

type failingDocs struct {
	*repository.MemoryCollection
}

func (failingDocs) Create(context.Context, *model.MediaRecord) error {
	return errors.New("permission denied")
}

type fakeTasks struct {
	enqueued []*asynq.Task
}

func (f *fakeTasks) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.enqueued = append(f.enqueued, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(f.enqueued))}, nil
}

type harness struct {
	handler http.Handler
	docs    repository.Collection
	blobs   *blobstore.MemoryStore
	stager  *selection.Stager
	hub     *gallery.Hub
	tasks   *fakeTasks
}

func newHarness(t *testing.T, docs repository.Collection) *harness {
	t.Helper()
	cfg := &config.Config{
		Title:           "Alina and Alex's Wedding",
		MediaPrefix:     "wedding-media/",
		ThumbnailPrefix: "wedding-media/thumbnails/",
		HomePagePrefix:  "home-page/",
		ThumbnailOffset: time.Second,
		ProcessingPool:  2,
		CacheVersion:    "v1",
	}
	log := zap.NewNop()
	stager, err := selection.NewStager(t.TempDir(), 1<<20, signing.NewSigner([]byte("test-secret")), time.Hour, log)
	require.NoError(t, err)
	blobs := blobstore.NewMemory("https://cdn.test")
	hub := gallery.NewHub(docs, log)
	tasks := &fakeTasks{}
	deps := Deps{
		Stager:   stager,
		Pipeline: pipeline.New(blobs, docs, stillFrames{}, cfg, log),
		Docs:     docs,
		Blobs:    blobs,
		Landing:  landing.NewService(blobs, landing.NewMemoryCache(), cfg.CacheKey(), cfg.HomePagePrefix, cfg.Title, log),
		Hub:      hub,
		Tasks:    tasks,
	}
	return &harness{
		handler: New(cfg, deps, log).Handler(),
		docs:    docs,
		blobs:   blobs,
		stager:  stager,
		hub:     hub,
		tasks:   tasks,
	}
}

func (h *harness) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

type filePart struct {
	name, contentType, body string
}

func multipartBody(t *testing.T, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, f.name))
		hdr.Set("Content-Type", f.contentType)
		w, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = io.WriteString(w, f.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("note", "ignored"))
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (h *harness) newSessionWith(t *testing.T, files ...filePart) (string, []itemView) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/sessions", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	sess := decode[sessionView](t, rec)

	body, ct := multipartBody(t, files...)
	rec = h.do(t, http.MethodPost, "/sessions/"+sess.ID+"/items", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	added := decode[struct {
		Items []itemView `json:"items"`
	}](t, rec)
	return sess.ID, added.Items
}

var weddingBatch = []filePart{
	{"toast.jpg", "image/jpeg", "jpeg-bytes-1"},
	{"cake.png", "image/png", "png-bytes-2"},
	{"first-dance.mp4", "video/mp4", "mp4-bytes-3"},
}

func TestCaptureUploadEndToEnd(t *testing.T) {
	h := newHarness(t, repository.NewMemory())
	id, items := h.newSessionWith(t, weddingBatch...)

	require.Len(t, items, 3)
	assert.Equal(t, []string{"toast.jpg", "cake.png", "first-dance.mp4"}, []string{items[0].Name, items[1].Name, items[2].Name})
	assert.Equal(t, model.FileTypeImage, items[0].FileType)
	assert.Equal(t, model.FileTypeVideo, items[2].FileType)

	preview := h.do(t, http.MethodGet, items[0].PreviewURL, nil, "")
	require.Equal(t, http.StatusOK, preview.Code)
	assert.Equal(t, "jpeg-bytes-1", preview.Body.String())

	rec := h.do(t, http.MethodPost, "/sessions/"+id+"/upload", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[uploadResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "/", resp.Redirect)
	assert.Len(t, resp.Outcomes, 3)

	records, err := h.docs.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	thumbs := 0
	for _, r := range records {
		if r.HasThumbnail() {
			thumbs++
			assert.Equal(t, model.FileTypeVideo, r.FileType)
		}
	}
	assert.Equal(t, 1, thumbs)

	// the session and its previews are released after a successful upload
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/sessions/"+id, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, items[0].PreviewURL, nil, "").Code)

	gal := h.do(t, http.MethodGet, "/gallery", nil, "")
	require.Equal(t, http.StatusOK, gal.Code)
	tiles := decode[struct {
		Tiles []gallery.Tile `json:"tiles"`
	}](t, gal).Tiles
	assert.Len(t, tiles, 3)

	var video model.MediaRecord
	for _, r := range records {
		if r.FileType == model.FileTypeVideo {
			video = r
		}
	}
	item := h.do(t, http.MethodGet, "/gallery/"+video.ID, nil, "")
	require.Equal(t, http.StatusOK, item.Code)
	assert.Equal(t, *video.ThumbnailURL, decode[galleryItem](t, item).Tile.Src)

	dl := h.do(t, http.MethodGet, "/gallery/"+video.ID+"/download", nil, "")
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "mp4-bytes-3", dl.Body.String())
	assert.Equal(t, `attachment; filename=first-dance.mp4`, dl.Header().Get("Content-Disposition"))
}

func TestUploadFailureKeepsSession(t *testing.T) {
	h := newHarness(t, failingDocs{repository.NewMemory()})
	id, _ := h.newSessionWith(t, weddingBatch[0])

	rec := h.do(t, http.MethodPost, "/sessions/"+id+"/upload", nil, "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[uploadResponse](t, rec)
	assert.Equal(t, pipeline.FailureMessage, resp.Message)
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, pipeline.StepRecord, resp.Outcomes[0].Step)

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/sessions/"+id, nil, "").Code)
}

func TestUploadEmptySessionRejected(t *testing.T) {
	h := newHarness(t, repository.NewMemory())
	rec := h.do(t, http.MethodPost, "/sessions", nil, "")
	id := decode[sessionView](t, rec).ID

	body, ct := multipartBody(t)
	rec = h.do(t, http.MethodPost, "/sessions/"+id+"/items", body, ct)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/sessions/"+id+"/upload", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveItemAndDiscard(t *testing.T) {
	h := newHarness(t, repository.NewMemory())
	id, items := h.newSessionWith(t, weddingBatch...)

	rec := h.do(t, http.MethodDelete, fmt.Sprintf("/sessions/%s/items/%d", id, items[1].Index), nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, items[1].PreviewURL, nil, "").Code)

	sess := decode[sessionView](t, h.do(t, http.MethodGet, "/sessions/"+id, nil, ""))
	assert.Len(t, sess.Items, 2)

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/sessions/"+id, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, items[0].PreviewURL, nil, "").Code)
}

func TestPreviewRejectsForgedHandle(t *testing.T) {
	h := newHarness(t, repository.NewMemory())
	rec := h.do(t, http.MethodGet, "/preview/not-a-token", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAsyncUploadEnqueues(t *testing.T) {
	h := newHarness(t, repository.NewMemory())
	id, _ := h.newSessionWith(t, weddingBatch[0])

	rec := h.do(t, http.MethodPost, "/sessions/"+id+"/upload?async=true", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "task-1", body["taskId"])
	require.Len(t, h.tasks.enqueued, 1)
	assert.Contains(t, string(h.tasks.enqueued[0].Payload()), id)

	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/tasks/task-1", nil, "").Code)
}

func TestLanding(t *testing.T) {
	h := newHarness(t, repository.NewMemory())
	for _, k := range []string{"home-page/a.jpg", "home-page/b.jpg", "home-page/c.jpg"} {
		_, err := h.blobs.Put(context.Background(), k, strings.NewReader("x"), 1, "image/jpeg")
		require.NoError(t, err)
	}
	rec := h.do(t, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[landing.Page](t, rec)
	assert.Equal(t, "Alina and Alex's Wedding", page.Title)
	assert.Len(t, page.Images, 3)
	assert.Equal(t, "https://cdn.test/home-page/b.jpg", page.Collage[0])
}

func TestGalleryReadsCollectionWhenHubIsDown(t *testing.T) {
	docs := repository.NewMemory()
	h := newHarness(t, docs)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.hub.Run(ctx) }()
	require.Eventually(t, func() bool { _, ok := h.hub.Snapshot(); return ok }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, docs.Create(context.Background(), &model.MediaRecord{Name: "after.jpg", URL: "https://cdn.test/after.jpg", FileType: model.FileTypeImage}))

	rec := h.do(t, http.MethodGet, "/gallery", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]gallery.Tile](t, rec)
	require.Len(t, body["tiles"], 1)
	assert.Equal(t, "after.jpg", body["tiles"][0].Name)
}

func TestGalleryItemNotFound(t *testing.T) {
	h := newHarness(t, repository.NewMemory())
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/gallery/missing", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/gallery/missing/download", nil, "").Code)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, repository.NewMemory())
	rec := h.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestLiveGalleryStreamsChanges(t *testing.T) {
	docs := repository.NewMemory()
	h := newHarness(t, docs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.hub.Run(ctx) }()
	require.Eventually(t, func() bool { _, ok := h.hub.Snapshot(); return ok }, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(h.handler)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/gallery/live", nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg struct {
		Tiles []gallery.Tile `json:"tiles"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Empty(t, msg.Tiles)

	require.NoError(t, docs.Create(context.Background(), &model.MediaRecord{Name: "late.mp4", FileType: model.FileTypeVideo}))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Len(t, msg.Tiles, 1)
	assert.True(t, msg.Tiles[0].Placeholder)
}
