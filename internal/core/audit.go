package core

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"vivarium/pkg/domain"
)

// auditRecord is a pending audit row built by an operation after its
// mutation committed.
type auditRecord struct {
	actorID  string
	company  *string
	action   domain.AuditAction
	table    EntityType
	recordID string
	changes  any
}

// changeSet is the JSON payload stored in AuditLog.Changes.
type changeSet struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

// recordAudit appends audit rows in their own transaction. Failures are
// logged and counted; the primary mutation has already committed.
func (s *Service) recordAudit(ctx context.Context, records ...auditRecord) {
	if len(records) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		for _, rec := range records {
			var payload json.RawMessage
			if rec.changes != nil {
				raw, err := json.Marshal(rec.changes)
				if err != nil {
					return err
				}
				payload = raw
			}
			if _, err := tx.AppendAuditLog(AuditLog{
				UserID:    rec.actorID,
				CompanyID: rec.company,
				Action:    rec.action,
				TableName: rec.table,
				RecordID:  rec.recordID,
				Changes:   payload,
				CreatedAt: s.clock.Now(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return
	}
	s.logger.Error("audit write failed", "action", string(records[0].action), "table", string(records[0].table), "records", len(records), "error", err)
	if rec, ok := s.metrics.(AuditFailureRecorder); ok {
		for _, r := range records {
			rec.ObserveAuditFailure(string(r.action))
		}
	}
}

// AuditFilter narrows audit log listings. Zero fields match everything.
type AuditFilter struct {
	Table    EntityType
	RecordID string
	Action   domain.AuditAction
	Since    time.Time
	Limit    int
}

func (f AuditFilter) matches(l AuditLog) bool {
	if f.Table != "" && l.TableName != f.Table {
		return false
	}
	if f.RecordID != "" && l.RecordID != f.RecordID {
		return false
	}
	if f.Action != "" && l.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && l.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// ListAuditLogs returns audit rows newest first. Admins see every company;
// Success Managers see their own.
func (s *Service) ListAuditLogs(ctx context.Context, actor User, filter AuditFilter) ([]AuditLog, error) {
	var out []AuditLog
	err := s.run(ctx, "list_audit_logs", func(ctx context.Context) error {
		scope, err := actorScope(actor, PermAuditRead, EntityAuditLog)
		if err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			out = filterAudit(view.ListAuditLogs(), scope, filter)
			return nil
		})
	})
	return out, err
}

func filterAudit(logs []AuditLog, scope Scope, filter AuditFilter) []AuditLog {
	out := make([]AuditLog, 0)
	for _, l := range logs {
		if scope.Allows(l.CompanyID) && filter.matches(l) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// History returns the audit trail of one record, oldest first. It is visible
// to anyone who may read the entity; purged records keep their history.
func (s *Service) History(ctx context.Context, actor User, entity EntityType, id string) ([]AuditLog, error) {
	var out []AuditLog
	err := s.run(ctx, opName("history", entity), func(ctx context.Context) error {
		scope, err := actorScope(actor, PermRead, entity)
		if err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			out = filterAudit(view.ListAuditLogs(), scope, AuditFilter{Table: entity, RecordID: id})
			if len(out) == 0 {
				if err := lookupAny(view, scope, entity, id); err != nil {
					return err
				}
			}
			sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
			return nil
		})
	})
	return out, err
}
