package repository

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/config"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/metrics"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
)

func fixedClock(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func TestMemoryCreateAssignsIDAndTimestamp(t *testing.T) {
	at := time.Date(2026, 6, 20, 18, 0, 0, 0, time.UTC)
	coll := NewMemory().WithClock(fixedClock(at))

	rec := &model.MediaRecord{URL: "u", Name: "a.jpg", FileType: model.FileTypeImage}
	require.NoError(t, coll.Create(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, at, rec.CreatedAt)

	got, err := coll.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, *rec, *got)
}

func TestMemoryListNewestFirst(t *testing.T) {
	base := time.Date(2026, 6, 20, 18, 0, 0, 0, time.UTC)
	coll := NewMemory().WithClock(fixedClock(base, base.Add(time.Second), base.Add(2*time.Second)))
	ctx := context.Background()
	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, coll.Create(ctx, &model.MediaRecord{Name: name, FileType: model.FileTypeImage}))
	}

	list, err := coll.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"third", "second", "first"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func TestSortNewestFirstBreaksTiesByID(t *testing.T) {
	at := time.Date(2026, 6, 20, 18, 0, 0, 0, time.UTC)
	records := []model.MediaRecord{
		{ID: "a", CreatedAt: at},
		{ID: "c", CreatedAt: at},
		{ID: "z", CreatedAt: at.Add(-time.Minute)},
		{ID: "b", CreatedAt: at},
	}
	SortNewestFirst(records)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
	assert.Equal(t, "a", records[2].ID)
	assert.Equal(t, "z", records[3].ID)
}

func TestMemoryGetMissing(t *testing.T) {
	_, err := NewMemory().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySubscribeReceivesInsertsAndClosesOnCancel(t *testing.T) {
	coll := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	events, err := coll.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, coll.Subscribers())

	rec := &model.MediaRecord{Name: "a.jpg", FileType: model.FileTypeImage}
	require.NoError(t, coll.Create(context.Background(), rec))

	select {
	case ev := <-events:
		assert.Equal(t, model.ChangeInsert, ev.Kind)
		assert.Equal(t, rec.ID, ev.Record.ID)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	require.NoError(t, coll.Delete(context.Background(), rec.ID))
	ev := <-events
	assert.Equal(t, model.ChangeDelete, ev.Kind)

	cancel()
	require.Eventually(t, func() bool { return coll.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-events
	assert.False(t, open)
}

func TestMemoryEvictsSubscriberThatFallsBehind(t *testing.T) {
	coll := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := coll.Subscribe(ctx)
	require.NoError(t, err)
	evicted := testutil.ToFloat64(metrics.CollectionSubscribersEvicted)

	for i := 0; i <= subscriberBuffer; i++ {
		require.NoError(t, coll.Create(context.Background(), &model.MediaRecord{Name: "burst.jpg", FileType: model.FileTypeImage}))
	}
	assert.Zero(t, coll.Subscribers())
	assert.Equal(t, evicted+1, testutil.ToFloat64(metrics.CollectionSubscribersEvicted))

	received := 0
	for range events {
		received++
	}
	assert.Equal(t, subscriberBuffer, received, "buffered events are delivered before the close")

	cancel()
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, coll.Subscribers())
}

func TestDecodeNotification(t *testing.T) {
	payload := `{"kind":"insert","record":{"id":"r1","url":"https://cdn/x.mp4","thumbnail_url":"https://cdn/x.jpg",` +
		`"name":"x.mp4","file_type":"video","path":"wedding-media/1_x.mp4","thumbnail_path":"wedding-media/thumbnails/1_x.mp4.jpg",` +
		`"created_at":"2026-06-20T18:00:00.123456+00:00"}}`
	ev, err := decodeNotification([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, model.ChangeInsert, ev.Kind)
	assert.Equal(t, "r1", ev.Record.ID)
	assert.True(t, ev.Record.HasThumbnail())
	assert.Equal(t, model.FileTypeVideo, ev.Record.FileType)
	assert.Equal(t, 123456000, ev.Record.CreatedAt.Nanosecond())

	ev, err = decodeNotification([]byte(`{"kind":"insert","record":{"id":"r2","thumbnail_url":null,"created_at":"2026-06-20T18:00:00+00:00"}}`))
	require.NoError(t, err)
	assert.False(t, ev.Record.HasThumbnail())

	_, err = decodeNotification([]byte(`{"kind":"truncate","record":{}}`))
	assert.Error(t, err)
}

func TestMongoInsertPipelineUsesServerClock(t *testing.T) {
	thumb := "https://cdn/$x.jpg"
	stages := insertPipeline(&model.MediaRecord{
		URL: "https://cdn/$x.mp4", ThumbnailURL: &thumb, Name: "$x.mp4", FileType: model.FileTypeVideo,
		CreatedAt: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Len(t, stages, 1)
	require.Equal(t, "$set", stages[0][0].Key)
	set, ok := stages[0][0].Value.(bson.D)
	require.True(t, ok)

	fields := set.Map()
	assert.Equal(t, "$$NOW", fields["createdAt"], "createdAt comes from the database server")
	assert.Equal(t, bson.D{{Key: "$literal", Value: "$x.mp4"}}, fields["name"], "user values are not read as field paths")
	assert.Equal(t, bson.D{{Key: "$literal", Value: &thumb}}, fields["thumbnailUrl"])
}

func TestChangeEventFromMongo(t *testing.T) {
	ev, ok := changeEvent(changeDoc{OperationType: "insert", FullDocument: mongoRecord{ID: "m1", Name: "a.jpg"}})
	require.True(t, ok)
	assert.Equal(t, model.ChangeInsert, ev.Kind)
	assert.Equal(t, "m1", ev.Record.ID)

	del := changeDoc{OperationType: "delete"}
	del.DocumentKey.ID = "m2"
	ev, ok = changeEvent(del)
	require.True(t, ok)
	assert.Equal(t, model.ChangeDelete, ev.Kind)
	assert.Equal(t, "m2", ev.Record.ID)

	_, ok = changeEvent(changeDoc{OperationType: "invalidate"})
	assert.False(t, ok)
}

func TestNewMemoryDriver(t *testing.T) {
	coll, closeFn, err := New(context.Background(), &config.Config{CollectionDriver: config.CollectionDriverMemory}, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &MemoryCollection{}, coll)
}
