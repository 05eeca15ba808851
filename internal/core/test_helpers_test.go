package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vivarium/internal/core"
	"vivarium/pkg/domain"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordingLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			n++
		}
	}
	return n
}

const (
	companyA = "company-a"
	companyB = "company-b"
)

func ptr[T any](v T) *T { return &v }

func actor(id string, role domain.Role, company string) domain.User {
	u := domain.User{Role: role}
	u.ID = id
	if company != "" {
		u.CompanyID = ptr(company)
	}
	return u
}

var (
	admin      = actor("admin", domain.RoleAdmin, "")
	directorA  = actor("director-a", domain.RoleDirector, companyA)
	employeeA  = actor("employee-a", domain.RoleEmployee, companyA)
	employeeB  = actor("employee-b", domain.RoleEmployee, companyB)
	managerA   = actor("manager-a", domain.RoleSuccessManager, companyA)
	orphanUser = actor("orphan", domain.RoleEmployee, "")
)

type harness struct {
	svc    *core.Service
	clock  *fakeClock
	logger *recordingLogger
}

func newHarness(t *testing.T, opts ...core.Option) harness {
	t.Helper()
	clock := newFakeClock()
	logger := &recordingLogger{}
	opts = append([]core.Option{core.WithClock(clock), core.WithLogger(logger)}, opts...)
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(), opts...)
	return harness{svc: svc, clock: clock, logger: logger}
}

func (h harness) cage(t *testing.T, by domain.User, number string) domain.Cage {
	t.Helper()
	c, err := h.svc.CreateCage(context.Background(), by, domain.CagePatch{CageNumber: ptr(number)})
	if err != nil {
		t.Fatalf("create cage %s: %v", number, err)
	}
	return c
}

func (h harness) animal(t *testing.T, by domain.User, number string, cageID *string) domain.Animal {
	t.Helper()
	a, err := h.svc.CreateAnimal(context.Background(), by, domain.AnimalPatch{AnimalNumber: ptr(number), CageID: cageID})
	if err != nil {
		t.Fatalf("create animal %s: %v", number, err)
	}
	return a
}

func (h harness) auditRows(t *testing.T, action domain.AuditAction, recordID string) []domain.AuditLog {
	t.Helper()
	logs, err := h.svc.ListAuditLogs(context.Background(), admin, core.AuditFilter{Action: action, RecordID: recordID})
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	return logs
}

func isNotFound(err error) bool {
	var nf domain.ErrNotFound
	return errors.As(err, &nf)
}

func expectIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func expectNotFound(t *testing.T, err error) {
	t.Helper()
	if !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// failingAuditStore delegates to a real store but fails every transaction
// that appends audit rows.
type failingAuditStore struct {
	domain.PersistentStore
}

func (s failingAuditStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.PersistentStore.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return fn(failingAuditTx{tx})
	})
}

type failingAuditTx struct {
	domain.Transaction
}

func (failingAuditTx) AppendAuditLog(domain.AuditLog) (domain.AuditLog, error) {
	return domain.AuditLog{}, fmt.Errorf("audit table unavailable")
}
