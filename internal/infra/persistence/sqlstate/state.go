// Package sqlstate mirrors a memory.Store into SQL tables so several
// processes can share one database. Entity buckets are stored as JSON
// documents, audit rows are insert-only, and a version counter tells each
// process when its in-memory copy is stale.
package sqlstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"vivarium/internal/infra/persistence/memory"
)

// Dialect holds the statements that differ between database engines.
type Dialect struct {
	// Schema is executed once on open; statements must be idempotent.
	Schema []string
	// SelectVersion reads the version without locking.
	SelectVersion string
	// LockVersion reads the version and holds the writer lock until the
	// surrounding transaction ends.
	LockVersion string
	// BumpVersion increments the version by one.
	BumpVersion string
	// UpsertBucket takes (bucket, payload).
	UpsertBucket string
	// SelectBuckets returns (bucket, payload) rows.
	SelectBuckets string
	// SelectAuditFrom takes a sequence number and returns (seq, payload)
	// rows with a greater sequence, ordered by sequence.
	SelectAuditFrom string
	// InsertAudit takes (seq, payload).
	InsertAudit string
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// State tracks which database version the memory store reflects. It is not
// safe for concurrent use; callers serialize access.
type State struct {
	mem     *memory.Store
	dialect Dialect
	version int64
}

const stale = -1

// ErrNoVersionRow is returned when the version table has not been seeded.
var ErrNoVersionRow = errors.New("sqlstate: version row missing")

// New binds a memory store to a dialect. The first Refresh loads everything.
func New(mem *memory.Store, dialect Dialect) *State {
	return &State{mem: mem, dialect: dialect, version: stale}
}

// EnsureSchema runs the dialect's schema statements.
func (s *State) EnsureSchema(ctx context.Context, q Querier) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Version returns the database version last loaded or written.
func (s *State) Version() int64 { return s.version }

// Invalidate forces the next Refresh to reload everything. Used when the
// memory store may hold changes the database never committed.
func (s *State) Invalidate() { s.version = stale }

// Refresh brings the memory store up to the database version. With lock set
// the version row stays locked until q's transaction ends.
func (s *State) Refresh(ctx context.Context, q Querier, lock bool) error {
	stmt := s.dialect.SelectVersion
	if lock {
		stmt = s.dialect.LockVersion
	}
	var version int64
	if err := q.QueryRowContext(ctx, stmt).Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoVersionRow
		}
		return fmt.Errorf("read state version: %w", err)
	}
	if version == s.version {
		return nil
	}
	entities, err := s.loadBuckets(ctx, q)
	if err != nil {
		return err
	}
	from := 0
	if s.version != stale {
		from = s.mem.AuditLogCount()
	}
	audit, err := s.loadAudit(ctx, q, from)
	if err != nil {
		return err
	}
	if s.version == stale {
		entities.AuditLogs = audit
		s.mem.ImportState(entities)
	} else {
		s.mem.Refresh(entities, audit)
	}
	s.version = version
	return nil
}

// Commit writes the entity buckets, inserts the audit rows appended since
// auditFrom and bumps the version. q must hold the writer lock.
func (s *State) Commit(ctx context.Context, q Querier, auditFrom int) error {
	snapshot := s.mem.ExportEntities()
	for _, bucket := range memory.EntityBucketNames {
		data, err := json.Marshal(snapshot.Bucket(bucket))
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := q.ExecContext(ctx, s.dialect.UpsertBucket, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	for i, row := range s.mem.AuditLogsFrom(auditFrom) {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode audit row %s: %w", row.ID, err)
		}
		if _, err := q.ExecContext(ctx, s.dialect.InsertAudit, int64(auditFrom+i+1), data); err != nil {
			return fmt.Errorf("insert audit row %s: %w", row.ID, err)
		}
	}
	if _, err := q.ExecContext(ctx, s.dialect.BumpVersion); err != nil {
		return fmt.Errorf("bump state version: %w", err)
	}
	s.version++
	return nil
}

func (s *State) loadBuckets(ctx context.Context, q Querier) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	rows, err := q.QueryContext(ctx, s.dialect.SelectBuckets)
	if err != nil {
		return snapshot, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	entity := make(map[string]bool, len(memory.EntityBucketNames))
	for _, name := range memory.EntityBucketNames {
		entity[name] = true
	}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return snapshot, fmt.Errorf("scan state: %w", err)
		}
		if !entity[bucket] || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, snapshot.Bucket(bucket)); err != nil {
			return snapshot, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return snapshot, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

func (s *State) loadAudit(ctx context.Context, q Querier, from int) ([]memory.AuditLog, error) {
	rows, err := q.QueryContext(ctx, s.dialect.SelectAuditFrom, int64(from))
	if err != nil {
		return nil, fmt.Errorf("select audit: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []memory.AuditLog
	next := int64(from + 1)
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if seq != next {
			return nil, fmt.Errorf("audit sequence gap: want %d, got %d", next, seq)
		}
		var row memory.AuditLog
		if err := json.Unmarshal(payload, &row); err != nil {
			return nil, fmt.Errorf("decode audit row %d: %w", seq, err)
		}
		out = append(out, row)
		next++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}
