package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/metrics"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
)

// subscriberBuffer is the number of undelivered events a subscriber may hold
// before it is evicted.
const subscriberBuffer = 64

// MemoryCollection is an in-process collection with push subscriptions.
type MemoryCollection struct {
	mu      sync.RWMutex
	records map[string]model.MediaRecord
	subs    map[chan model.ChangeEvent]struct{}
	now     func() time.Time
}

// NewMemory constructs an empty MemoryCollection.
func NewMemory() *MemoryCollection {
	return &MemoryCollection{
		records: make(map[string]model.MediaRecord),
		subs:    make(map[chan model.ChangeEvent]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the server clock, for tests.
func (m *MemoryCollection) WithClock(now func() time.Time) *MemoryCollection {
	m.now = now
	return m
}

// Create stores a copy of rec and notifies subscribers.
func (m *MemoryCollection) Create(ctx context.Context, rec *model.MediaRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = uuid.NewString()
	rec.CreatedAt = m.now()
	m.records[rec.ID] = *rec
	m.publish(model.ChangeEvent{Kind: model.ChangeInsert, Record: *rec})
	return nil
}

// Delete removes a record. The upload flow never deletes; this exists for
// gallery maintenance and tests.
func (m *MemoryCollection) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	m.publish(model.ChangeEvent{Kind: model.ChangeDelete, Record: rec})
	return nil
}

// List returns all records newest first.
func (m *MemoryCollection) List(ctx context.Context) ([]model.MediaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.MediaRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	SortNewestFirst(out)
	return out, nil
}

// Get returns a record by id.
func (m *MemoryCollection) Get(ctx context.Context, id string) (*model.MediaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Subscribe registers a buffered channel that is closed when ctx ends or when
// the subscriber falls subscriberBuffer events behind.
func (m *MemoryCollection) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	ch := make(chan model.ChangeEvent, subscriberBuffer)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Subscribers is the number of live subscriptions.
func (m *MemoryCollection) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// publish must be called with mu held. A subscriber whose buffer is full is
// closed instead of silently missing the event, so it can resubscribe and
// take a fresh snapshot.
func (m *MemoryCollection) publish(ev model.ChangeEvent) {
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			delete(m.subs, ch)
			close(ch)
			metrics.CollectionSubscribersEvicted.Inc()
		}
	}
}

// SortNewestFirst orders records by CreatedAt descending, breaking ties by id
// descending.
func SortNewestFirst(records []model.MediaRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
}
