package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLBackend is an opt-in networked Backend for embedders that want a
// shared, durable store across processes instead of per-run SQLite files.
//
// Unlike SQLiteBackend, a single MySQL connection pool backs every run; runs
// are distinguished by a `run_scope` column scoped from the run directory path
// passed to Open, and the three logical namespaces share one table
// distinguished by a `ns` column. Grounded on the teacher's MySQLStore[S]
// (connection pool tuning, ON DUPLICATE KEY UPDATE upserts, transactions for
// atomic batches).
type MySQLBackend struct {
	db *sql.DB
}

// NewMySQLBackend opens a MySQL connection pool and ensures the batch_kv
// table exists. dsn follows the go-sql-driver/mysql DSN format, e.g.
// "user:pass@tcp(127.0.0.1:3306)/batchengine".
func NewMySQLBackend(dsn string) (*MySQLBackend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS batch_kv (
		run_scope VARCHAR(255) NOT NULL,
		ns VARCHAR(16) NOT NULL,
		k VARCHAR(512) NOT NULL,
		v LONGBLOB NOT NULL,
		PRIMARY KEY (run_scope, ns, k)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create batch_kv table: %w", err)
	}

	return &MySQLBackend{db: db}, nil
}

// Open implements Backend. runDir is used verbatim as the run scope key.
func (b *MySQLBackend) Open(runDir string) (status, records, steps Namespace, err error) {
	return &mysqlNamespace{db: b.db, scope: runDir, ns: "status"},
		&mysqlNamespace{db: b.db, scope: runDir, ns: "records"},
		&mysqlNamespace{db: b.db, scope: runDir, ns: "steps"},
		nil
}

// Close releases the underlying connection pool. Call once all namespaces
// opened from this backend are no longer in use.
func (b *MySQLBackend) Close() error {
	return b.db.Close()
}

type mysqlNamespace struct {
	db    *sql.DB
	scope string
	ns    string
}

func (m *mysqlNamespace) Put(ctx context.Context, key string, value []byte) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO batch_kv (run_scope, ns, k, v) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE v = VALUES(v)`,
		m.scope, m.ns, key, value)
	if err != nil {
		return fmt.Errorf("store: mysql put %q: %w", key, err)
	}
	return nil
}

func (m *mysqlNamespace) PutMany(ctx context.Context, kvs map[string][]byte) error {
	if len(kvs) == 0 {
		return nil
	}
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("store: mysql begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO batch_kv (run_scope, ns, k, v) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE v = VALUES(v)`)
	if err != nil {
		return fmt.Errorf("store: mysql prepare batch: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for k, v := range kvs {
		if _, err := stmt.ExecContext(ctx, m.scope, m.ns, k, v); err != nil {
			return fmt.Errorf("store: mysql batch put %q: %w", k, err)
		}
	}
	return tx.Commit()
}

func (m *mysqlNamespace) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := m.db.QueryRowContext(ctx,
		`SELECT v FROM batch_kv WHERE run_scope = ? AND ns = ? AND k = ?`,
		m.scope, m.ns, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: mysql get %q: %w", key, err)
	}
	return value, nil
}

func (m *mysqlNamespace) Delete(ctx context.Context, key string) error {
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM batch_kv WHERE run_scope = ? AND ns = ? AND k = ?`,
		m.scope, m.ns, key)
	if err != nil {
		return fmt.Errorf("store: mysql delete %q: %w", key, err)
	}
	return nil
}

func (m *mysqlNamespace) Scan(ctx context.Context, fn func(key string, value []byte) error) error {
	rows, err := m.db.QueryContext(ctx,
		`SELECT k, v FROM batch_kv WHERE run_scope = ? AND ns = ? ORDER BY k`,
		m.scope, m.ns)
	if err != nil {
		return fmt.Errorf("store: mysql scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("store: mysql scan row: %w", err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (m *mysqlNamespace) Close() error {
	// The pool is owned by MySQLBackend; individual namespaces share it.
	return nil
}
