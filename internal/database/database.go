// Package database owns the Postgres pool and the media record schema,
// including the trigger that publishes row changes over LISTEN/NOTIFY.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChangeChannel is the NOTIFY channel carrying {kind, record} JSON payloads.
const ChangeChannel = "wedding_media_changes"

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Table quotes a collection name for use as a table identifier.
func Table(collection string) string {
	return pgx.Identifier{collection}.Sanitize()
}

// SchemaSQL renders the DDL for one collection table.
func SchemaSQL(collection string) string {
	table := Table(collection)
	index := pgx.Identifier{collection + "_created_idx"}.Sanitize()
	trigger := pgx.Identifier{collection + "_notify"}.Sanitize()
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	thumbnail_url TEXT,
	name TEXT NOT NULL,
	file_type TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	thumbnail_path TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (created_at DESC, id DESC);
CREATE OR REPLACE FUNCTION wedding_notify_change() RETURNS trigger AS $$
DECLARE
	rec RECORD;
BEGIN
	IF TG_OP = 'DELETE' THEN
		rec := OLD;
	ELSE
		rec := NEW;
	END IF;
	PERFORM pg_notify(TG_ARGV[0], json_build_object('kind', lower(TG_OP), 'record', row_to_json(rec))::text);
	RETURN rec;
END;
$$ LANGUAGE plpgsql;
DROP TRIGGER IF EXISTS %[3]s ON %[1]s;
CREATE TRIGGER %[3]s AFTER INSERT OR UPDATE OR DELETE ON %[1]s
	FOR EACH ROW EXECUTE FUNCTION wedding_notify_change('%[4]s');`, table, index, trigger, ChangeChannel)
}

// EnsureSchema creates the collection table, its ordering index and the
// change trigger if needed.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, collection string) error {
	if _, err := pool.Exec(ctx, SchemaSQL(collection)); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
