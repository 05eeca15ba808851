package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"vivarium/pkg/domain"
)

// trashable is satisfied by pointers to every soft-deletable entity.
type trashable[T any] interface {
	*T
	RecordID() string
	Company() *string
	IsDeleted() bool
	DeletedInfo() (*time.Time, *string)
	MarkDeleted(at time.Time, by string)
	ClearDeleted()
}

// table binds an entity type to its transaction accessors.
type table[T any, P trashable[T]] struct {
	entity EntityType
	noun   string
	list   func(TransactionView) []T
	find   func(TransactionView, string) (T, bool)
	update func(Transaction, string, func(*T) error) (T, error)
	remove func(Transaction, string) error
}

var (
	animalTable   = table[Animal, *Animal]{EntityAnimal, "animal", TransactionView.ListAnimals, TransactionView.FindAnimal, Transaction.UpdateAnimal, Transaction.DeleteAnimal}
	cageTable     = table[Cage, *Cage]{EntityCage, "cage", TransactionView.ListCages, TransactionView.FindCage, Transaction.UpdateCage, Transaction.DeleteCage}
	strainTable   = table[Strain, *Strain]{EntityStrain, "strain", TransactionView.ListStrains, TransactionView.FindStrain, Transaction.UpdateStrain, Transaction.DeleteStrain}
	genotypeTable = table[Genotype, *Genotype]{EntityGenotype, "genotype", TransactionView.ListGenotypes, TransactionView.FindGenotype, Transaction.UpdateGenotype, Transaction.DeleteGenotype}
	qrCodeTable   = table[QRCode, *QRCode]{EntityQRCode, "qr code", TransactionView.ListQRCodes, TransactionView.FindQRCode, Transaction.UpdateQRCode, Transaction.DeleteQRCode}
	userTable     = table[User, *User]{EntityUser, "user", TransactionView.ListUsers, TransactionView.FindUser, Transaction.UpdateUser, Transaction.DeleteUser}
)

// lookup returns the record when it exists and is inside scope, deleted or not.
func (t table[T, P]) lookup(view TransactionView, scope Scope, id string) (T, error) {
	rec, ok := t.find(view, id)
	if !ok || !scope.Allows(P(&rec).Company()) {
		var zero T
		return zero, notFound(t.entity, id)
	}
	return rec, nil
}

// active returns an in-scope record that is not soft-deleted.
func (t table[T, P]) active(view TransactionView, scope Scope, id string) (T, error) {
	rec, err := t.lookup(view, scope, id)
	if err != nil {
		return rec, err
	}
	if P(&rec).IsDeleted() {
		var zero T
		return zero, notFound(t.entity, id)
	}
	return rec, nil
}

// filter returns in-scope records whose deleted state equals deleted.
func (t table[T, P]) filter(view TransactionView, scope Scope, deleted bool) []T {
	out := make([]T, 0)
	for _, rec := range t.list(view) {
		p := P(&rec)
		if p.IsDeleted() == deleted && scope.Allows(p.Company()) {
			out = append(out, rec)
		}
	}
	return out
}

func opName(verb string, entity EntityType) string {
	return verb + "_" + string(entity)
}

func getRecord[T any, P trashable[T]](ctx context.Context, s *Service, t table[T, P], actor User, id string) (T, error) {
	var out T
	err := s.run(ctx, opName("get", t.entity), func(ctx context.Context) error {
		scope, err := actorScope(actor, PermRead, t.entity)
		if err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			out, err = t.active(view, scope, id)
			return err
		})
	})
	return out, err
}

func listRecords[T any, P trashable[T]](ctx context.Context, s *Service, t table[T, P], actor User) ([]T, error) {
	var out []T
	err := s.run(ctx, opName("list", t.entity), func(ctx context.Context) error {
		scope, err := actorScope(actor, PermRead, t.entity)
		if err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			out = t.filter(view, scope, false)
			return nil
		})
	})
	return out, err
}

func listTrash[T any, P trashable[T]](ctx context.Context, s *Service, t table[T, P], actor User) ([]TrashEntry[T], error) {
	var out []TrashEntry[T]
	err := s.run(ctx, opName("list_trash", t.entity), func(ctx context.Context) error {
		scope, err := actorScope(actor, PermRead, t.entity)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		return s.store.View(ctx, func(view TransactionView) error {
			recs := t.filter(view, scope, true)
			out = make([]TrashEntry[T], 0, len(recs))
			for _, rec := range recs {
				at, _ := P(&rec).DeletedInfo()
				out = append(out, TrashEntry[T]{
					Record:   rec,
					DaysLeft: DaysUntilPurge(*at, now),
					PurgeAt:  PurgeDate(*at),
				})
			}
			sort.SliceStable(out, func(i, j int) bool { return out[i].PurgeAt.Before(out[j].PurgeAt) })
			return nil
		})
	})
	return out, err
}

func softDeleteRecord[T any, P trashable[T]](ctx context.Context, s *Service, t table[T, P], actor User, id string) (T, error) {
	var out T
	err := s.run(ctx, opName("soft_delete", t.entity), func(ctx context.Context) error {
		scope, err := actorScope(actor, PermSoftDelete, t.entity)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, err := t.lookup(tx.Snapshot(), scope, id); err != nil {
				return err
			}
			out, err = t.update(tx, id, func(rec *T) error {
				p := P(rec)
				if p.IsDeleted() {
					return fmt.Errorf("%s %s: %w", t.entity, id, domain.ErrAlreadyDeleted)
				}
				p.MarkDeleted(now, actor.ID)
				return nil
			})
			return err
		}); err != nil {
			return err
		}
		at, by := P(&out).DeletedInfo()
		s.recordAudit(ctx, auditRecord{
			actorID:  actor.ID,
			company:  P(&out).Company(),
			action:   domain.AuditSoftDelete,
			table:    t.entity,
			recordID: id,
			changes:  map[string]any{"deleted_at": at, "deleted_by": by},
		})
		return nil
	})
	return out, err
}

func restoreRecord[T any, P trashable[T]](ctx context.Context, s *Service, t table[T, P], actor User, id string) (T, error) {
	var out T
	err := s.run(ctx, opName("restore", t.entity), func(ctx context.Context) error {
		scope, err := actorScope(actor, PermRestore, t.entity)
		if err != nil {
			return err
		}
		var before T
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if before, err = t.lookup(tx.Snapshot(), scope, id); err != nil {
				return err
			}
			out, err = t.update(tx, id, func(rec *T) error {
				p := P(rec)
				if !p.IsDeleted() {
					return fmt.Errorf("%s %s: %w", t.entity, id, domain.ErrNotDeleted)
				}
				p.ClearDeleted()
				return nil
			})
			return err
		}); err != nil {
			return err
		}
		at, by := P(&before).DeletedInfo()
		s.recordAudit(ctx, auditRecord{
			actorID:  actor.ID,
			company:  P(&out).Company(),
			action:   domain.AuditRestore,
			table:    t.entity,
			recordID: id,
			changes:  map[string]any{"deleted_at": at, "deleted_by": by},
		})
		return nil
	})
	return out, err
}

// purgeInTx removes one soft-deleted, in-scope record inside tx.
func purgeInTx[T any, P trashable[T]](tx Transaction, t table[T, P], scope Scope, id string) (T, error) {
	rec, err := t.lookup(tx.Snapshot(), scope, id)
	if err != nil {
		return rec, err
	}
	if !P(&rec).IsDeleted() {
		var zero T
		return zero, fmt.Errorf("%s %s: %w", t.entity, id, domain.ErrNotDeleted)
	}
	if err := t.remove(tx, id); err != nil {
		var zero T
		return zero, err
	}
	return rec, nil
}

// afterPurge writes the audit row and archive tombstone for a purged record.
func afterPurge[T any, P trashable[T]](ctx context.Context, s *Service, t table[T, P], actorID string, rec T) {
	p := P(&rec)
	s.recordAudit(ctx, auditRecord{
		actorID:  actorID,
		company:  p.Company(),
		action:   domain.AuditPermanentDelete,
		table:    t.entity,
		recordID: p.RecordID(),
		changes:  changeSet{Before: rec},
	})
	s.archiveTombstone(ctx, t.entity, p.RecordID(), actorID, rec)
}

func purgeRecord[T any, P trashable[T]](ctx context.Context, s *Service, t table[T, P], actor User, id string) error {
	return s.run(ctx, opName("purge", t.entity), func(ctx context.Context) error {
		scope, err := actorScope(actor, PermPurge, t.entity)
		if err != nil {
			return err
		}
		var rec T
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			rec, err = purgeInTx(tx, t, scope, id)
			return err
		}); err != nil {
			return err
		}
		afterPurge(ctx, s, t, actor.ID, rec)
		return nil
	})
}

// batchPurge purges each id in its own transaction. A role or scope failure
// rejects the whole request; per-id failures are collected.
func batchPurge[T any, P trashable[T]](ctx context.Context, s *Service, t table[T, P], actor User, ids []string) (BatchResult, error) {
	result := BatchResult{Success: []string{}, Failed: []string{}}
	err := s.run(ctx, opName("batch_purge", t.entity), func(ctx context.Context) error {
		scope, err := actorScope(actor, PermPurge, t.entity)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return domain.ValidationError{Fields: []domain.FieldError{{Field: "ids", Message: "must not be empty"}}}
		}
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			var rec T
			_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				var err error
				rec, err = purgeInTx(tx, t, scope, id)
				return err
			})
			if err != nil {
				result.Failed = append(result.Failed, id)
				if result.Reasons == nil {
					result.Reasons = make(map[string]string)
				}
				result.Reasons[id] = batchReason(err)
				continue
			}
			result.Success = append(result.Success, id)
			afterPurge(ctx, s, t, actor.ID, rec)
		}
		s.logger.Info("batch purge finished", "entity", string(t.entity), "success", len(result.Success), "failed", len(result.Failed))
		return nil
	})
	return result, err
}

func batchReason(err error) string {
	var nf domain.ErrNotFound
	switch {
	case errors.As(err, &nf):
		return "not found"
	case errors.Is(err, domain.ErrNotDeleted):
		return "not deleted"
	default:
		return "purge failed"
	}
}

func createRecord[T any, P trashable[T]](ctx context.Context, s *Service, t table[T, P], actor User, create func(tx Transaction, scope Scope) (T, error)) (T, error) {
	var out T
	err := s.run(ctx, opName("create", t.entity), func(ctx context.Context) error {
		scope, err := actorScope(actor, PermWrite, t.entity)
		if err != nil {
			return err
		}
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			out, err = create(tx, scope)
			return err
		})
		if err != nil {
			return err
		}
		s.logWarnings(opName("create", t.entity), res)
		p := P(&out)
		s.recordAudit(ctx, auditRecord{
			actorID:  actor.ID,
			company:  p.Company(),
			action:   domain.AuditCreate,
			table:    t.entity,
			recordID: p.RecordID(),
			changes:  changeSet{After: out},
		})
		return nil
	})
	return out, err
}

// updateRecord applies mutate to an active, in-scope record. mutate sees the
// transaction view so it can validate references against pending state.
func updateRecord[T any, P trashable[T]](ctx context.Context, s *Service, t table[T, P], op string, actor User, id string, mutate func(view TransactionView, scope Scope, rec *T) error) (T, error) {
	var out T
	err := s.run(ctx, op, func(ctx context.Context) error {
		scope, err := actorScope(actor, PermWrite, t.entity)
		if err != nil {
			return err
		}
		var before T
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			var err error
			if before, err = t.active(view, scope, id); err != nil {
				return err
			}
			company := P(&before).Company()
			out, err = t.update(tx, id, func(rec *T) error {
				if err := mutate(view, scope, rec); err != nil {
					return err
				}
				if !sameCompany(company, P(rec).Company()) {
					return domain.ValidationError{Fields: []domain.FieldError{{Field: "company_id", Message: "immutable"}}}
				}
				return nil
			})
			return err
		})
		if err != nil {
			return err
		}
		s.logWarnings(op, res)
		s.recordAudit(ctx, auditRecord{
			actorID:  actor.ID,
			company:  P(&out).Company(),
			action:   domain.AuditUpdate,
			table:    t.entity,
			recordID: id,
			changes:  changeSet{Before: before, After: out},
		})
		return nil
	})
	return out, err
}

func sameCompany(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// lookupAny reports whether entity/id exists in scope, deleted or not.
func lookupAny(view TransactionView, scope Scope, entity EntityType, id string) error {
	var err error
	switch entity {
	case EntityAnimal:
		_, err = animalTable.lookup(view, scope, id)
	case EntityCage:
		_, err = cageTable.lookup(view, scope, id)
	case EntityStrain:
		_, err = strainTable.lookup(view, scope, id)
	case EntityGenotype:
		_, err = genotypeTable.lookup(view, scope, id)
	case EntityQRCode:
		_, err = qrCodeTable.lookup(view, scope, id)
	case EntityUser:
		_, err = userTable.lookup(view, scope, id)
	default:
		err = notFound(entity, id)
	}
	return err
}

const unknownRef = "Unknown"

// refName resolves a weak reference to a display name. Dangling, deleted and
// out-of-scope references render as "Unknown".
func refName[T any, P trashable[T]](view TransactionView, t table[T, P], scope Scope, ref *string, name func(T) string) string {
	if ref == nil {
		return ""
	}
	rec, err := t.active(view, scope, *ref)
	if err != nil {
		return unknownRef
	}
	return name(rec)
}

// requireRef records a field error when ref is set but does not resolve to an
// active, in-scope record owned by the same company as the referencing record.
func requireRef[T any, P trashable[T]](v *domain.Validator, view TransactionView, t table[T, P], scope Scope, owner *string, field string, ref *string) {
	if ref == nil {
		return
	}
	rec, err := t.active(view, scope, *ref)
	if err != nil || !sameCompany(P(&rec).Company(), owner) {
		v.Add(field, "unknown "+t.noun+" reference")
	}
}
