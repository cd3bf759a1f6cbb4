package gallery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/metrics"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/repository"
)

// Client receives full tile lists. Only the latest list is kept; a client
// that falls behind skips intermediate renders.
type Client struct {
	send chan []Tile
}

// Updates is closed when the client is unsubscribed or the hub stops.
func (c *Client) Updates() <-chan []Tile {
	return c.send
}

const defaultResubscribeDelay = 2 * time.Second

// Hub shares one collection subscription between many live clients.
type Hub struct {
	viewer  *Viewer
	log     *zap.Logger
	delay   time.Duration
	mu      sync.Mutex
	clients map[*Client]struct{}
	current []Tile
	// live is true while current mirrors an open subscription.
	live    bool
	stopped bool
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithResubscribeDelay sets the pause before resubscribing after the
// collection ends the stream.
func WithResubscribeDelay(d time.Duration) HubOption {
	return func(h *Hub) { h.delay = d }
}

// NewHub builds a Hub over the collection.
func NewHub(docs repository.Collection, log *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		viewer:  NewViewer(docs, log),
		log:     log,
		delay:   defaultResubscribeDelay,
		clients: make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run drives the shared subscription until ctx ends, then closes all clients.
// A dropped or failed subscription is retried; connected clients stay
// attached and receive a fresh snapshot once it is back.
func (h *Hub) Run(ctx context.Context) error {
	defer h.stop()
	for {
		err := h.viewer.Run(ctx, h.broadcast)
		if ctx.Err() != nil {
			return nil
		}
		h.setLive(false)
		metrics.GalleryResubscribes.Inc()
		h.log.Warn("gallery subscription lost, resubscribing", zap.Error(err), zap.Duration("delay", h.delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(h.delay):
		}
	}
}

// Subscribe registers a client and primes it with the current tiles.
func (h *Hub) Subscribe() *Client {
	c := &Client{send: make(chan []Tile, 1)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		close(c.send)
		return c
	}
	h.clients[c] = struct{}{}
	metrics.GallerySubscribers.Inc()
	if h.live {
		c.send <- h.current
	}
	return c
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.GallerySubscribers.Dec()
}

// Snapshot returns the latest tiles and whether they are live. Tiles from a
// lost subscription are reported as not live.
func (h *Hub) Snapshot() ([]Tile, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, h.live
}

func (h *Hub) setLive(live bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = live
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(tiles []Tile) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = tiles
	h.live = true
	for c := range h.clients {
		select {
		case c.send <- tiles:
			continue
		default:
		}
		// replace the stale render the client has not read yet
		select {
		case <-c.send:
			metrics.GalleryEventsDropped.Inc()
		default:
		}
		c.send <- tiles
	}
}

func (h *Hub) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	h.live = false
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		metrics.GallerySubscribers.Dec()
	}
	h.log.Debug("gallery hub stopped")
}
