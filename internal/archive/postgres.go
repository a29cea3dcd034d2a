package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists snapshots as one row per (session, file), upserted
// on every save so the table always holds the latest archived revision.
type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session_snapshots (
			session_id TEXT NOT NULL,
			file_id    TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			name       TEXT NOT NULL,
			language   TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			revision   BIGINT NOT NULL,
			taken_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, file_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure session_snapshots: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	for _, f := range snap.Files {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_snapshots (session_id, file_id, title, name, language, content, revision, taken_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (session_id, file_id) DO UPDATE SET
				title=EXCLUDED.title,
				name=EXCLUDED.name,
				language=EXCLUDED.language,
				content=EXCLUDED.content,
				revision=EXCLUDED.revision,
				taken_at=EXCLUDED.taken_at
		`, snap.SessionID, f.FileID, snap.Title, f.Name, f.Language, f.Content, f.Revision, snap.TakenAt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert snapshot %s/%s: %w", snap.SessionID, f.FileID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

// LoadSnapshot reads back the latest archived files for a session.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, title, name, language, content, revision, taken_at
		FROM session_snapshots
		WHERE session_id = $1
		ORDER BY file_id
	`, sessionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", sessionID, err)
	}
	defer rows.Close()

	snap := Snapshot{SessionID: sessionID}
	for rows.Next() {
		var f FileSnapshot
		if err := rows.Scan(&f.FileID, &snap.Title, &f.Name, &f.Language, &f.Content, &f.Revision, &snap.TakenAt); err != nil {
			return Snapshot{}, fmt.Errorf("scan snapshot row: %w", err)
		}
		snap.Files = append(snap.Files, f)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
