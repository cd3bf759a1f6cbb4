package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/database"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
)

// PostgresCollection wraps all SQL used by the API, the worker and the
// gallery subscription.
type PostgresCollection struct {
	pool  *pgxpool.Pool
	table string
	log   *zap.Logger
}

// NewPostgres constructs a collection over an existing table.
func NewPostgres(pool *pgxpool.Pool, collection string, log *zap.Logger) *PostgresCollection {
	return &PostgresCollection{pool: pool, table: database.Table(collection), log: log}
}

// Create inserts a record. created_at comes from the database clock.
func (r *PostgresCollection) Create(ctx context.Context, rec *model.MediaRecord) error {
	rec.ID = uuid.NewString()
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, url, thumbnail_url, name, file_type, path, thumbnail_path)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, r.table), rec.ID, rec.URL, rec.ThumbnailURL, rec.Name, rec.FileType, rec.Path, rec.ThumbnailPath)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return fmt.Errorf("insert media record: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return nil
}

// List returns all records newest first.
func (r *PostgresCollection) List(ctx context.Context) ([]model.MediaRecord, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, url, thumbnail_url, name, file_type, path, thumbnail_path, created_at
		FROM %s ORDER BY created_at DESC, id DESC
	`, r.table))
	if err != nil {
		return nil, fmt.Errorf("select media records: %w", err)
	}
	defer rows.Close()
	records := make([]model.MediaRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media records: %w", err)
	}
	return records, nil
}

// Get returns a record by id.
func (r *PostgresCollection) Get(ctx context.Context, id string) (*model.MediaRecord, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, url, thumbnail_url, name, file_type, path, thumbnail_path, created_at
		FROM %s WHERE id=$1
	`, r.table), id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Subscribe holds one pooled connection in LISTEN mode for the lifetime of
// ctx.
func (r *PostgresCollection) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+database.ChangeChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}
	out := make(chan model.ChangeEvent, 16)
	go func() {
		defer close(out)
		defer func() {
			// UNLISTEN on a fresh context so the connection goes back clean.
			unlistenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := conn.Exec(unlistenCtx, "UNLISTEN "+database.ChangeChannel); err != nil {
				conn.Conn().Close(unlistenCtx)
			}
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Error("wait for notification", zap.Error(err))
				}
				return
			}
			ev, err := decodeNotification([]byte(n.Payload))
			if err != nil {
				r.log.Warn("bad change payload", zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.MediaRecord, error) {
	var (
		rec   model.MediaRecord
		thumb sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.URL, &thumb, &rec.Name, &rec.FileType, &rec.Path, &rec.ThumbnailPath, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan media record: %w", err)
	}
	if thumb.Valid {
		u := thumb.String
		rec.ThumbnailURL = &u
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

// notification mirrors the trigger's json_build_object payload; row_to_json
// keeps the column names.
type notification struct {
	Kind   model.ChangeKind `json:"kind"`
	Record struct {
		ID            string         `json:"id"`
		URL           string         `json:"url"`
		ThumbnailURL  *string        `json:"thumbnail_url"`
		Name          string         `json:"name"`
		FileType      model.FileType `json:"file_type"`
		Path          string         `json:"path"`
		ThumbnailPath string         `json:"thumbnail_path"`
		CreatedAt     time.Time      `json:"created_at"`
	} `json:"record"`
}

func decodeNotification(payload []byte) (model.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	switch n.Kind {
	case model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete:
	default:
		return model.ChangeEvent{}, fmt.Errorf("unknown change kind %q", n.Kind)
	}
	return model.ChangeEvent{
		Kind: n.Kind,
		Record: model.MediaRecord{
			ID:            n.Record.ID,
			URL:           n.Record.URL,
			ThumbnailURL:  n.Record.ThumbnailURL,
			Name:          n.Record.Name,
			FileType:      n.Record.FileType,
			Path:          n.Record.Path,
			ThumbnailPath: n.Record.ThumbnailPath,
			CreatedAt:     n.Record.CreatedAt.UTC(),
		},
	}, nil
}
