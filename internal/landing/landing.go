// Package landing serves the home page: the event title, a few decorative
// images from the home-page/ namespace and the two guest actions.
package landing

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/blobstore"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/metrics"
)

// resolveLimit bounds concurrent URL lookups against the blob store.
const resolveLimit = 8

// Action is one call to action on the landing page.
type Action struct {
	Label  string `json:"label"`
	Href   string `json:"href"`
	Method string `json:"method"`
}

// Page is the rendered landing surface.
type Page struct {
	Title   string   `json:"title"`
	Images  []string `json:"images"`
	Collage []string `json:"collage"`
	Actions []Action `json:"actions"`
}

// Service lists and caches the decorative images.
type Service struct {
	blobs  blobstore.Store
	cache  Cache
	key    string
	prefix string
	title  string
	log    *zap.Logger
}

// NewService builds a Service. key is the versioned cache key, e.g.
// homePageImages_v1.
func NewService(blobs blobstore.Store, cache Cache, key, prefix, title string, log *zap.Logger) *Service {
	return &Service{
		blobs:  blobs,
		cache:  cache,
		key:    key,
		prefix: prefix,
		title:  title,
		log:    log,
	}
}

// Images returns the cached URL list, or lists and resolves the home page
// namespace on a miss and caches the result. Cache errors fall through to
// the blob store.
func (s *Service) Images(ctx context.Context) ([]string, error) {
	urls, ok, err := s.cache.Get(ctx, s.key)
	switch {
	case err != nil:
		metrics.LandingCacheTotal.WithLabelValues("error").Inc()
		s.log.Warn("landing cache read failed", zap.String("key", s.key), zap.Error(err))
	case ok:
		metrics.LandingCacheTotal.WithLabelValues("hit").Inc()
		return urls, nil
	default:
		metrics.LandingCacheTotal.WithLabelValues("miss").Inc()
	}

	refs, err := s.blobs.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.prefix, err)
	}
	urls, err = s.resolve(ctx, refs)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, s.key, urls); err != nil {
		s.log.Warn("landing cache write failed", zap.String("key", s.key), zap.Error(err))
	}
	s.log.Info("landing images refreshed", zap.Int("count", len(urls)))
	return urls, nil
}

// resolve looks up every reference concurrently, keeping list order.
func (s *Service) resolve(ctx context.Context, refs []string) ([]string, error) {
	urls := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveLimit)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			u, err := s.blobs.URL(gctx, ref)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", ref, err)
			}
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

// Page renders the landing surface. A failed image lookup leaves the
// collage empty instead of failing the page.
func (s *Service) Page(ctx context.Context) Page {
	images, err := s.Images(ctx)
	if err != nil {
		s.log.Error("fetching landing images", zap.Error(err))
		images = []string{}
	}
	return Page{
		Title:   s.title,
		Images:  images,
		Collage: Collage(images),
		Actions: []Action{
			{Label: "Capture Moment", Href: "/sessions", Method: "POST"},
			{Label: "View Gallery", Href: "/gallery", Method: "GET"},
		},
	}
}

// Collage picks the three collage slots in display order (second, third,
// first). Fewer than three images are shown as they are.
func Collage(images []string) []string {
	if len(images) < 3 {
		return append([]string{}, images...)
	}
	return []string{images[1], images[2], images[0]}
}
