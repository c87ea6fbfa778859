package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	identity    TEXT NOT NULL,
	name        TEXT NOT NULL,
	revision    INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (identity, name)
);
`

// SQLiteBackend stores one row per (identity, collection) with a revision
// column used for compare-and-swap updates.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens a SQLite database and runs migrations.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Load(ctx context.Context, identity, collection string) (Document, error) {
	var (
		payload  string
		revision int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, revision FROM collections WHERE identity = ? AND name = ?`,
		identity, collection,
	).Scan(&payload, &revision)
	if err == sql.ErrNoRows {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("select collection: %w", err)
	}
	return Document{Payload: []byte(payload), Revision: revision}, nil
}

func (s *SQLiteBackend) Save(ctx context.Context, identity, collection string, payload []byte, expected int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var res sql.Result
	var err error
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO collections (identity, name, revision, payload, updated_at)
			 VALUES (?, ?, 1, ?, ?)
			 ON CONFLICT(identity, name) DO NOTHING`,
			identity, collection, string(payload), now,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE collections SET revision = revision + 1, payload = ?, updated_at = ?
			 WHERE identity = ? AND name = ? AND revision = ?`,
			string(payload), now, identity, collection, expected,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("write collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrRevisionConflict
	}
	return expected + 1, nil
}

func (s *SQLiteBackend) Clear(ctx context.Context, identity, collection string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM collections WHERE identity = ? AND name = ?`, identity, collection)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Identities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT identity FROM collections ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
