// Package sqlite provides a SQLite-backed persistent store that reuses the
// in-memory transactional core. Every write runs under SQLite's writer lock
// and first catches up with commits made by other processes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vivarium/internal/infra/persistence/memory"
	"vivarium/internal/infra/persistence/sqlstate"
	"vivarium/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

// BusyTimeout bounds how long a writer waits for another process's lock.
const BusyTimeout = 5 * time.Second

var dialect = sqlstate.Dialect{
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS state (
			bucket TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq INTEGER PRIMARY KEY,
			payload BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS state_version (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		)`,
		`INSERT OR IGNORE INTO state_version(id, version) VALUES (1, 0)`,
	},
	SelectVersion:   `SELECT version FROM state_version WHERE id = 1`,
	LockVersion:     `SELECT version FROM state_version WHERE id = 1`,
	BumpVersion:     `UPDATE state_version SET version = version + 1 WHERE id = 1`,
	UpsertBucket:    `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
	SelectBuckets:   `SELECT bucket, payload FROM state`,
	SelectAuditFrom: `SELECT seq, payload FROM audit_log WHERE seq > ? ORDER BY seq`,
	InsertAudit:     `INSERT INTO audit_log(seq, payload) VALUES(?, ?)`,
}

// Store keeps state in memory and in a SQLite file shared with other processes.
type Store struct {
	*memory.Store
	db    *sql.DB
	mu    sync.Mutex
	state *sqlstate.State
	path  string
}

// NewStore opens path, creating the schema when needed, and loads its state.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = "vivarium.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	mem := memory.NewStore(engine, opts...)
	s := &Store{Store: mem, db: db, state: sqlstate.New(mem, dialect), path: path}
	ctx := context.Background()
	err = s.withWriteLock(ctx, func(conn *sql.Conn) error {
		if err := s.state.EnsureSchema(ctx, conn); err != nil {
			return err
		}
		return s.state.Refresh(ctx, conn, true)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// withWriteLock runs fn on one connection inside BEGIN IMMEDIATE, which takes
// the database write lock up front. fn's error rolls the transaction back.
func (s *Store) withWriteLock(ctx context.Context, fn func(conn *sql.Conn) error) (retErr error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", BusyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`)
		}
	}()
	if err := fn(conn); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RunInTransaction catches up with the database, applies fn to the memory
// store and writes the result back before releasing the write lock.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res domain.Result
	applied := false
	err := s.withWriteLock(ctx, func(conn *sql.Conn) error {
		if err := s.state.Refresh(ctx, conn, true); err != nil {
			return err
		}
		auditFrom := s.AuditLogCount()
		var err error
		res, err = s.Store.RunInTransaction(ctx, fn)
		if err != nil {
			return err
		}
		applied = true
		return s.state.Commit(ctx, conn, auditFrom)
	})
	if err != nil && applied {
		s.state.Invalidate()
	}
	return res, err
}

// View catches up with the database and reads the memory state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	s.mu.Lock()
	err := s.state.Refresh(ctx, s.db, false)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.View(ctx, fn)
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
