package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
)

// mongoRecord is the stored document shape.
type mongoRecord struct {
	ID            string         `bson:"_id"`
	URL           string         `bson:"url"`
	ThumbnailURL  *string        `bson:"thumbnailUrl"`
	Name          string         `bson:"name"`
	FileType      model.FileType `bson:"fileType"`
	Path          string         `bson:"path"`
	ThumbnailPath string         `bson:"thumbnailPath"`
	CreatedAt     time.Time      `bson:"createdAt"`
}

func (d mongoRecord) record() model.MediaRecord {
	return model.MediaRecord{
		ID:            d.ID,
		URL:           d.URL,
		ThumbnailURL:  d.ThumbnailURL,
		Name:          d.Name,
		FileType:      d.FileType,
		Path:          d.Path,
		ThumbnailPath: d.ThumbnailPath,
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

// ConnectMongo dials the server and returns the named collection.
func ConnectMongo(ctx context.Context, uri, db, collection string) (*mongo.Collection, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	coll := client.Database(db).Collection(collection)
	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo index: %w", err)
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}
	return coll, closeFn, nil
}

// MongoCollection stores records as documents and subscribes through change
// streams, which need a replica set.
type MongoCollection struct {
	col *mongo.Collection
	log *zap.Logger
}

// NewMongo wraps an existing collection.
func NewMongo(col *mongo.Collection, log *zap.Logger) *MongoCollection {
	return &MongoCollection{col: col, log: log}
}

// Create inserts a record whose createdAt is assigned by the database
// server ($$NOW), so records written from different hosts share one clock.
// The upsert reports as an insert on change streams.
func (r *MongoCollection) Create(ctx context.Context, rec *model.MediaRecord) error {
	id := uuid.NewString()
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var stored mongoRecord
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, insertPipeline(rec), opts).Decode(&stored)
	if err != nil {
		return fmt.Errorf("insert media record: %w", err)
	}
	rec.ID = stored.ID
	rec.CreatedAt = stored.CreatedAt.UTC()
	return nil
}

// insertPipeline is the update pipeline that writes rec's fields and stamps
// createdAt with the server time. Values are wrapped in $literal since a
// pipeline reads strings starting with "$" as field paths.
func insertPipeline(rec *model.MediaRecord) mongo.Pipeline {
	literal := func(v interface{}) bson.D { return bson.D{{Key: "$literal", Value: v}} }
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "url", Value: literal(rec.URL)},
			{Key: "thumbnailUrl", Value: literal(rec.ThumbnailURL)},
			{Key: "name", Value: literal(rec.Name)},
			{Key: "fileType", Value: literal(rec.FileType)},
			{Key: "path", Value: literal(rec.Path)},
			{Key: "thumbnailPath", Value: literal(rec.ThumbnailPath)},
			{Key: "createdAt", Value: "$$NOW"},
		}}},
	}
}

// List returns all records newest first.
func (r *MongoCollection) List(ctx context.Context) ([]model.MediaRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.col.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find media records: %w", err)
	}
	defer cur.Close(ctx)
	records := make([]model.MediaRecord, 0)
	for cur.Next(ctx) {
		var doc mongoRecord
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode media record: %w", err)
		}
		records = append(records, doc.record())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate media records: %w", err)
	}
	return records, nil
}

// Get returns a record by id.
func (r *MongoCollection) Get(ctx context.Context, id string) (*model.MediaRecord, error) {
	var doc mongoRecord
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find media record: %w", err)
	}
	rec := doc.record()
	return &rec, nil
}

type changeDoc struct {
	OperationType string      `bson:"operationType"`
	FullDocument  mongoRecord `bson:"fullDocument"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// Subscribe opens a change stream on the collection.
func (r *MongoCollection) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	stream, err := r.col.Watch(ctx, mongo.Pipeline{}, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("watch collection: %w", err)
	}
	out := make(chan model.ChangeEvent, 16)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var change changeDoc
			if err := stream.Decode(&change); err != nil {
				r.log.Warn("bad change document", zap.Error(err))
				continue
			}
			ev, ok := changeEvent(change)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			r.log.Error("change stream", zap.Error(err))
		}
	}()
	return out, nil
}

func changeEvent(change changeDoc) (model.ChangeEvent, bool) {
	switch change.OperationType {
	case "insert":
		return model.ChangeEvent{Kind: model.ChangeInsert, Record: change.FullDocument.record()}, true
	case "update", "replace":
		return model.ChangeEvent{Kind: model.ChangeUpdate, Record: change.FullDocument.record()}, true
	case "delete":
		return model.ChangeEvent{Kind: model.ChangeDelete, Record: model.MediaRecord{ID: change.DocumentKey.ID}}, true
	default:
		return model.ChangeEvent{}, false
	}
}
