package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteBackend is the default embedded Backend. Each of the three logical
// namespaces gets its own single-file SQLite database under the run
// directory, keyed by PRIMARY KEY for ordered range scan and a transaction
// for atomic multi-key writes.
//
// Grounded on the teacher's SQLiteStore[S] (WAL mode, busy_timeout,
// single-writer connection pool), generalized from a typed workflow-state
// table to an opaque key/value table.
type SQLiteBackend struct{}

// NewSQLiteBackend returns the default embedded ordered-KV backend.
func NewSQLiteBackend() *SQLiteBackend {
	return &SQLiteBackend{}
}

// Open implements Backend, creating runDir if necessary and one database
// file per namespace inside it.
func (b *SQLiteBackend) Open(runDir string) (status, records, steps Namespace, err error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("store: create run dir: %w", err)
	}

	status, err = openSQLiteNamespace(filepath.Join(runDir, "status.db"))
	if err != nil {
		return nil, nil, nil, err
	}
	records, err = openSQLiteNamespace(filepath.Join(runDir, "records.db"))
	if err != nil {
		_ = status.Close()
		return nil, nil, nil, err
	}
	steps, err = openSQLiteNamespace(filepath.Join(runDir, "steps.db"))
	if err != nil {
		_ = status.Close()
		_ = records.Close()
		return nil, nil, nil, err
	}
	return status, records, steps, nil
}

type sqliteNamespace struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

func openSQLiteNamespace(path string) (*sqliteNamespace, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create kv table: %w", err)
	}

	return &sqliteNamespace{db: db}, nil
}

func (s *sqliteNamespace) Put(ctx context.Context, key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store: namespace closed")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}
	return nil
}

func (s *sqliteNamespace) PutMany(ctx context.Context, kvs map[string][]byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store: namespace closed")
	}
	if len(kvs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("store: prepare batch: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for k, v := range kvs {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("store: batch put %q: %w", k, err)
		}
	}

	return tx.Commit()
}

func (s *sqliteNamespace) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: namespace closed")
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", key, err)
	}
	return value, nil
}

func (s *sqliteNamespace) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store: namespace closed")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

func (s *sqliteNamespace) Scan(ctx context.Context, fn func(key string, value []byte) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store: namespace closed")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv ORDER BY key`)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("store: scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("store: scan row: %w", err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *sqliteNamespace) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
