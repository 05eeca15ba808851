// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics. Writers serialize on a locked version row and catch up
// with commits from other processes before applying their own.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"vivarium/internal/infra/persistence/memory"
	"vivarium/internal/infra/persistence/sqlstate"
	"vivarium/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/vivarium?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var dialect = sqlstate.Dialect{
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS state (
			bucket TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq BIGINT PRIMARY KEY,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS state_version (
			id INT PRIMARY KEY CHECK (id = 1),
			version BIGINT NOT NULL
		)`,
		`INSERT INTO state_version(id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
	},
	SelectVersion:   `SELECT version FROM state_version WHERE id = 1`,
	LockVersion:     `SELECT version FROM state_version WHERE id = 1 FOR UPDATE`,
	BumpVersion:     `UPDATE state_version SET version = version + 1 WHERE id = 1`,
	UpsertBucket:    `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload, updated_at=now()`,
	SelectBuckets:   `SELECT bucket, payload FROM state`,
	SelectAuditFrom: `SELECT seq, payload FROM audit_log WHERE seq > $1 ORDER BY seq`,
	InsertAudit:     `INSERT INTO audit_log(seq, payload) VALUES($1, $2)`,
}

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db    *sql.DB
	mu    sync.Mutex
	state *sqlstate.State
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the tables exist and hydrates the in-memory store.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	mem := memory.NewStore(engine, opts...)
	s := &Store{Store: mem, db: db, state: sqlstate.New(mem, dialect)}
	if err := s.state.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.state.Refresh(ctx, db, false); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// RunInTransaction locks the version row, catches up with other writers,
// applies fn and writes the result in the same database transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Result{}, fmt.Errorf("begin tx: %w", err)
	}
	committed, applied := false, false
	defer func() {
		if !committed {
			_ = tx.Rollback()
			if applied {
				s.state.Invalidate()
			}
		}
	}()
	if err := s.state.Refresh(ctx, tx, true); err != nil {
		return domain.Result{}, err
	}
	auditFrom := s.AuditLogCount()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	applied = true
	if err := s.state.Commit(ctx, tx, auditFrom); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return res, nil
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

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
