package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"vivarium/pkg/domain"
)

func fixedNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func strPtr(s string) *string { return &s }

func TestStoreCreateUpdateDeleteAnimal(t *testing.T) {
	store := NewStore(nil, WithNow(fixedNow))
	ctx := context.Background()

	var created Animal
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateAnimal(Animal{
			Tenancy:      domain.Tenancy{CompanyID: strPtr("co-1")},
			AnimalNumber: "A-1",
			Sex:          domain.SexFemale,
			Status:       domain.AnimalStatusActive,
			Health:       domain.HealthHealthy,
		})
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !created.CreatedAt.Equal(fixedNow()) || !created.UpdatedAt.Equal(fixedNow()) {
		t.Fatalf("expected timestamps from store clock, got %v/%v", created.CreatedAt, created.UpdatedAt)
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateAnimal(created.ID, func(a *Animal) error {
			a.Notes = "weighed"
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = store.View(ctx, func(v domain.TransactionView) error {
		got, ok := v.FindAnimal(created.ID)
		if !ok || got.Notes != "weighed" {
			t.Fatalf("expected updated animal, got %+v (found=%v)", got, ok)
		}
		return nil
	})

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteAnimal(created.ID)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindAnimal(created.ID); ok {
			t.Fatalf("expected animal removed")
		}
		return nil
	})
}

func TestStoreUpdateMissingReturnsNotFound(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateCage("missing", func(*Cage) error { return nil })
		return err
	})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) || nf.Entity != domain.EntityCage {
		t.Fatalf("expected cage not found, got %v", err)
	}
}

func TestStoreMutatorErrorDiscardsTransaction(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var id string
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		s, err := tx.CreateStrain(Strain{Name: "C57BL/6"})
		id = s.ID
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	sentinel := errors.New("stop")
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.UpdateStrain(id, func(s *Strain) error {
			s.Name = "changed"
			return nil
		}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		s, _ := v.FindStrain(id)
		if s.Name != "C57BL/6" {
			t.Fatalf("expected rollback, got %q", s.Name)
		}
		return nil
	})
}

func TestStoreRejectsIDChange(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var id string
	_, _ = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		g, err := tx.CreateGenotype(Genotype{Name: "wt"})
		id = g.ID
		return err
	})
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateGenotype(id, func(g *Genotype) error {
			g.ID = "other"
			return nil
		})
		return err
	})
	if err == nil {
		t.Fatalf("expected id change rejection")
	}
}

func TestStoreDuplicateExplicitIDRejected(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateUser(User{Base: domain.Base{ID: "u1"}, Email: "a@b.c", Name: "A", Role: domain.RoleAdmin}); err != nil {
			return err
		}
		_, err := tx.CreateUser(User{Base: domain.Base{ID: "u1"}, Email: "d@e.f", Name: "D", Role: domain.RoleAdmin})
		return err
	})
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Entity == domain.EntityCage {
			res.Violations = append(res.Violations, domain.Violation{Rule: "block", Severity: domain.SeverityBlock, Entity: c.Entity})
		}
	}
	return res, nil
}

func TestStoreBlockingRuleRejectsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockingRule{})
	store := NewStore(engine)
	ctx := context.Background()

	res, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateCage(Cage{CageNumber: "C-1"})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result returned")
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if n := len(v.ListCages()); n != 0 {
			t.Fatalf("expected no cages committed, got %d", n)
		}
		return nil
	})
	if store.RulesEngine() != engine {
		t.Fatalf("expected configured engine exposed")
	}
}

func TestStoreViewReturnsClones(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var id string
	_, _ = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		q, err := tx.CreateQRCode(QRCode{QRData: "x", CageID: strPtr("c1")})
		id = q.ID
		return err
	})
	_ = store.View(ctx, func(v domain.TransactionView) error {
		q, _ := v.FindQRCode(id)
		*q.CageID = "mutated"
		return nil
	})
	_ = store.View(ctx, func(v domain.TransactionView) error {
		q, _ := v.FindQRCode(id)
		if *q.CageID != "c1" {
			t.Fatalf("view leaked internal pointer: %s", *q.CageID)
		}
		return nil
	})
}

func TestStoreAppendAuditLogAndExportImport(t *testing.T) {
	store := NewStore(nil, WithNow(fixedNow))
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateCompany(Company{Name: "Acme"}); err != nil {
			return err
		}
		_, err := tx.AppendAuditLog(AuditLog{
			UserID:    "u1",
			Action:    domain.AuditCreate,
			TableName: domain.EntityCompany,
			RecordID:  "c1",
			Changes:   json.RawMessage(`{"name":"Acme"}`),
		})
		return err
	}); err != nil {
		t.Fatalf("tx: %v", err)
	}

	snap := store.ExportState()
	if len(snap.AuditLogs) != 1 || snap.AuditLogs[0].ID == "" || !snap.AuditLogs[0].CreatedAt.Equal(fixedNow()) {
		t.Fatalf("unexpected audit logs: %+v", snap.AuditLogs)
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	other := NewStore(nil)
	other.ImportState(decoded)
	_ = other.View(ctx, func(v domain.TransactionView) error {
		if len(v.ListCompanies()) != 1 || len(v.ListAuditLogs()) != 1 {
			t.Fatalf("expected imported state")
		}
		if v.ListAnimals() == nil {
			t.Fatalf("expected normalized empty bucket")
		}
		return nil
	})
}

func TestSnapshotBucketCoversAllNames(t *testing.T) {
	var snap Snapshot
	for _, name := range BucketNames {
		if snap.Bucket(name) == nil {
			t.Fatalf("bucket %s not addressable", name)
		}
	}
	if snap.Bucket("unknown") != nil {
		t.Fatalf("expected nil for unknown bucket")
	}
}

func TestStoreSerializesConditionalUpdates(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var id string
	_, _ = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		q, err := tx.CreateQRCode(QRCode{QRData: "blank", IsBlank: true})
		id = q.ID
		return err
	})

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
				_, err := tx.UpdateQRCode(id, func(q *QRCode) error {
					if q.CageID != nil {
						return domain.ErrAlreadyClaimed
					}
					q.CageID = strPtr("cage")
					return nil
				})
				return err
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestRefreshReplacesEntitiesAndAppendsAudit(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateCage(Cage{CageNumber: "C1"}); err != nil {
			return err
		}
		_, err := tx.AppendAuditLog(AuditLog{Action: domain.AuditCreate, TableName: domain.EntityCage})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if store.AuditLogCount() != 1 {
		t.Fatalf("expected one audit row")
	}

	fresh := Snapshot{Strains: map[string]Strain{"s1": {Base: domain.Base{ID: "s1"}, Name: "B6"}}}
	store.Refresh(fresh, []AuditLog{{ID: "a2", Action: domain.AuditCleanup}})

	_ = store.View(ctx, func(v TransactionView) error {
		if len(v.ListCages()) != 0 || len(v.ListStrains()) != 1 {
			t.Fatalf("entities must come from the refreshed snapshot")
		}
		logs := v.ListAuditLogs()
		if len(logs) != 2 || logs[1].ID != "a2" {
			t.Fatalf("expected appended audit row, got %+v", logs)
		}
		return nil
	})
	if got := store.AuditLogsFrom(1); len(got) != 1 || got[0].ID != "a2" {
		t.Fatalf("unexpected tail %+v", got)
	}
	if got := store.AuditLogsFrom(5); got != nil {
		t.Fatalf("offset past the end must be empty, got %+v", got)
	}
}

func TestTransactionAppendsDoNotLeakIntoCommittedAudit(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, _ = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AppendAuditLog(AuditLog{ID: "a1"})
		return err
	})
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.AppendAuditLog(AuditLog{ID: "discarded"}); err != nil {
			return err
		}
		return domain.ErrForbidden
	})
	if err == nil {
		t.Fatalf("expected rollback")
	}
	_, _ = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AppendAuditLog(AuditLog{ID: "a2"})
		return err
	})
	logs := store.AuditLogsFrom(0)
	if len(logs) != 2 || logs[0].ID != "a1" || logs[1].ID != "a2" {
		t.Fatalf("unexpected audit log %+v", logs)
	}
}
