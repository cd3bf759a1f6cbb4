package selection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/signing"
)

const manifestName = "manifest.json"

// Session is one capture session: the pending batch a guest is previewing.
type Session struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"createdAt"`
	Items     []model.MediaItem `json:"items"`
	nextIndex int
}

type manifest struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	NextIndex int            `json:"nextIndex"`
	Items     []manifestItem `json:"items"`
}

type manifestItem struct {
	Index       int            `json:"index"`
	Name        string         `json:"name"`
	FileType    model.FileType `json:"fileType"`
	Path        string         `json:"path"`
	Size        int64          `json:"size"`
	ContentType string         `json:"contentType"`
}

// Stager owns the staging directory. Each session gets its own folder with a
// JSON manifest so that a separate worker process can pick the batch up.
type Stager struct {
	root    string
	maxSize int64
	signer  *signing.Signer
	ttl     time.Duration
	log     *zap.Logger
	mu      sync.Mutex
}

// NewStager creates the staging root if needed.
func NewStager(root string, maxSize int64, signer *signing.Signer, ttl time.Duration, log *zap.Logger) (*Stager, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Stager{
		root:    root,
		maxSize: maxSize,
		signer:  signer,
		ttl:     ttl,
		log:     log,
	}, nil
}

// NewSession allocates an empty capture session.
func (s *Stager) NewSession() (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Items:     []model.MediaItem{},
	}
	if err := os.MkdirAll(s.sessionDir(sess.ID), 0o750); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// WithSession runs fn inside a fresh session and always discards it
// afterwards, releasing every staged file and preview handle.
func (s *Stager) WithSession(ctx context.Context, fn func(ctx context.Context, sess *Session) error) error {
	sess, err := s.NewSession()
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Discard(sess.ID); err != nil {
			s.log.Warn("discard session", zap.String("session", sess.ID), zap.Error(err))
		}
	}()
	return fn(ctx, sess)
}

// Session loads a session from its manifest.
func (s *Stager) Session(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

// Select stages every source in order and appends one MediaItem per file to
// the session. An empty selection is a no-op reported as ErrSelectionEmpty.
func (s *Stager) Select(ctx context.Context, sessionID string, sources []Source) ([]model.MediaItem, error) {
	if len(sources) == 0 {
		return nil, ErrSelectionEmpty
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	added := make([]model.MediaItem, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := s.stage(sess, src)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", src.Name, err)
		}
		sess.Items = append(sess.Items, item)
		added = append(added, item)
	}
	if err := s.save(sess); err != nil {
		return nil, err
	}
	s.log.Debug("files selected", zap.String("session", sess.ID), zap.Int("count", len(added)))
	return added, nil
}

// Remove drops one item from the pending batch and releases its staged bytes.
// Its preview handle stops resolving immediately.
func (s *Stager) Remove(sessionID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.load(sessionID)
	if err != nil {
		return err
	}
	for i, item := range sess.Items {
		if item.Index != index {
			continue
		}
		if err := os.Remove(item.File.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("release staged file: %w", err)
		}
		sess.Items = append(sess.Items[:i], sess.Items[i+1:]...)
		return s.save(sess)
	}
	return ErrItemNotFound
}

// Discard releases the whole session.
func (s *Stager) Discard(sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("discard session: %w", err)
	}
	return nil
}

// Open resolves a preview handle to the staged bytes.
func (s *Stager) Open(handle string) (*os.File, model.MediaItem, error) {
	subject, err := s.signer.Verify(handle)
	if err != nil {
		return nil, model.MediaItem{}, err
	}
	sessionID, rawIndex, ok := strings.Cut(subject, "/")
	if !ok {
		return nil, model.MediaItem{}, signing.ErrMalformedToken
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		return nil, model.MediaItem{}, signing.ErrMalformedToken
	}
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, model.MediaItem{}, err
	}
	for _, item := range sess.Items {
		if item.Index == index {
			f, err := os.Open(item.File.Path)
			if err != nil {
				return nil, model.MediaItem{}, fmt.Errorf("open staged file: %w", err)
			}
			return f, item, nil
		}
	}
	return nil, model.MediaItem{}, ErrItemNotFound
}

func (s *Stager) stage(sess *Session, src Source) (model.MediaItem, error) {
	index := sess.nextIndex
	name := filepath.Base(strings.TrimSpace(src.Name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "upload-" + strconv.Itoa(index)
	}
	path := filepath.Join(s.sessionDir(sess.ID), fmt.Sprintf("%03d_%s", index, name))
	dst, err := os.Create(path)
	if err != nil {
		return model.MediaItem{}, fmt.Errorf("create staged file: %w", err)
	}
	defer dst.Close()
	written, sniff, err := s.copyLimited(dst, src.Reader)
	if err != nil {
		os.Remove(path)
		return model.MediaItem{}, err
	}
	contentType := declaredType(src.ContentType, http.DetectContentType(sniff))
	sess.nextIndex++
	return model.MediaItem{
		Index: index,
		Name:  name,
		File: model.StagedFile{
			Path:        path,
			Size:        written,
			ContentType: contentType,
		},
		PreviewHandle: s.handle(sess.ID, index),
		FileType:      Classify(contentType),
	}, nil
}

// copyLimited streams r into dst with a fixed buffer, enforcing the size
// limit and keeping the first 512 bytes for content sniffing.
func (s *Stager) copyLimited(dst io.Writer, r io.Reader) (int64, []byte, error) {
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.maxSize {
				return 0, nil, fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, s.maxSize)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return 0, nil, fmt.Errorf("write staged file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return 0, nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		return 0, nil, ErrEmptyFile
	}
	return written, sniff, nil
}

func (s *Stager) handle(sessionID string, index int) string {
	return s.signer.Token(sessionID+"/"+strconv.Itoa(index), s.ttl)
}

func (s *Stager) sessionDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *Stager) load(id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.sessionDir(id), manifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	sess := &Session{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		Items:     make([]model.MediaItem, 0, len(m.Items)),
		nextIndex: m.NextIndex,
	}
	for _, it := range m.Items {
		sess.Items = append(sess.Items, model.MediaItem{
			Index: it.Index,
			Name:  it.Name,
			File: model.StagedFile{
				Path:        it.Path,
				Size:        it.Size,
				ContentType: it.ContentType,
			},
			PreviewHandle: s.handle(m.ID, it.Index),
			FileType:      it.FileType,
		})
	}
	return sess, nil
}

func (s *Stager) save(sess *Session) error {
	m := manifest{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		NextIndex: sess.nextIndex,
		Items:     make([]manifestItem, 0, len(sess.Items)),
	}
	for _, it := range sess.Items {
		m.Items = append(m.Items, manifestItem{
			Index:       it.Index,
			Name:        it.Name,
			FileType:    it.FileType,
			Path:        it.File.Path,
			Size:        it.File.Size,
			ContentType: it.File.ContentType,
		})
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(s.sessionDir(sess.ID), manifestName), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
