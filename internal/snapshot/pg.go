package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"classboard/api/internal/document"
)

// Keeper mirrors the latest healthy document into Postgres, one row per
// deployment. Hosts with ephemeral disks lose every file snapshot on
// redeploy; the keeper row is what survives.
type Keeper struct {
	db *sql.DB
}

// OpenKeeper connects to Postgres and ensures the snapshot table exists.
func OpenKeeper(ctx context.Context, databaseURL string) (*Keeper, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS offline_snapshot (
			id INT PRIMARY KEY,
			data_json TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			student_count INT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: ensure table: %w", err)
	}
	return &Keeper{db: db}, nil
}

func (k *Keeper) Close() error { return k.db.Close() }

// SaveHealthy upserts doc as the surviving copy. Callers only pass documents
// that already passed the corruption guard.
func (k *Keeper) SaveHealthy(ctx context.Context, doc *document.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("snapshot: encode keeper row: %w", err)
	}
	updatedAt := document.ParseClock(doc.ServerUpdatedAt)
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = k.db.ExecContext(ctx, `
		INSERT INTO offline_snapshot (id, data_json, updated_at, student_count)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET data_json = EXCLUDED.data_json,
		    updated_at = EXCLUDED.updated_at,
		    student_count = EXCLUDED.student_count
	`, string(data), updatedAt, doc.StudentCount())
	if err != nil {
		return fmt.Errorf("snapshot: upsert keeper row: %w", err)
	}
	return nil
}

// Load returns the surviving copy, or ErrNoDocument when the row was never
// written.
func (k *Keeper) Load(ctx context.Context) (*document.Document, error) {
	var data string
	err := k.db.QueryRowContext(ctx, `SELECT data_json FROM offline_snapshot WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read keeper row: %w", err)
	}
	return document.Decode([]byte(data))
}
