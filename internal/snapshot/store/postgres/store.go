package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"audita/internal/snapshot"
	"audita/pkg/platform/sentinel"
	txcontext "audita/pkg/platform/tx"
)

// Schema creates the snapshot table. Subject keys are denormalized into an
// array column so runs can be looked up by subject without decoding payloads.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_snapshots (
	run_id       TEXT PRIMARY KEY,
	version      INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	subject_keys TEXT[] NOT NULL DEFAULT '{}',
	payload      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_snapshots_subject_keys_idx ON audit_snapshots USING GIN (subject_keys);
`

// Store implements snapshot.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL snapshot store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies Schema, inside the caller's transaction when ctx
// carries one.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.execer(ctx).ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit_snapshots: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Save upserts the snapshot; saving a run twice replaces its payload.
func (s *Store) Save(ctx context.Context, snap *snapshot.Snapshot) error {
	payload, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_snapshots (run_id, version, created_at, subject_keys, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			version = EXCLUDED.version,
			created_at = EXCLUDED.created_at,
			subject_keys = EXCLUDED.subject_keys,
			payload = EXCLUDED.payload
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		snap.RunID,
		snap.Version,
		snap.CreatedAt,
		pq.Array(snap.Keys()),
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.RunID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, runID string) (*snapshot.Snapshot, error) {
	query := `SELECT payload FROM audit_snapshots WHERE run_id = $1`

	var payload []byte
	err := s.execer(ctx).QueryRowContext(ctx, query, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", runID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot %s: %w", runID, err)
	}
	return snapshot.Unmarshal(payload)
}

// List returns stored runs, most recent first.
func (s *Store) List(ctx context.Context) ([]snapshot.Info, error) {
	query := `
		SELECT run_id, created_at
		FROM audit_snapshots
		ORDER BY created_at DESC, run_id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	return scanInfos(rows)
}

// ListBySubject returns the runs that audited any of the given subject keys.
func (s *Store) ListBySubject(ctx context.Context, keys ...string) ([]snapshot.Info, error) {
	if len(keys) == 0 {
		return []snapshot.Info{}, nil
	}
	query := `
		SELECT run_id, created_at
		FROM audit_snapshots
		WHERE subject_keys && $1::text[]
		ORDER BY created_at DESC, run_id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("query snapshots by subject: %w", err)
	}
	defer rows.Close()

	return scanInfos(rows)
}

func scanInfos(rows *sql.Rows) ([]snapshot.Info, error) {
	infos := []snapshot.Info{}
	for rows.Next() {
		var info snapshot.Info
		if err := rows.Scan(&info.RunID, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		info.CreatedAt = info.CreatedAt.UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return infos, nil
}
