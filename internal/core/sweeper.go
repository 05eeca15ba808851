package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"vivarium/pkg/domain"
)

// cleanupTable is the audit table name recorded on sweep summaries.
const cleanupTable EntityType = "trash"

// CleanupReport summarizes one retention sweep.
type CleanupReport struct {
	ID     string             `json:"id"`
	Purged map[EntityType]int `json:"purged"`
	Total  int                `json:"total"`
	RanAt  time.Time          `json:"ran_at"`
}

type sweptRecord struct {
	entity  EntityType
	id      string
	company *string
	record  any
}

// sweepTable removes every record of t whose retention window has elapsed.
func sweepTable[T any, P trashable[T]](tx Transaction, t table[T, P], now time.Time) ([]sweptRecord, error) {
	var out []sweptRecord
	for _, rec := range t.list(tx.Snapshot()) {
		p := P(&rec)
		at, _ := p.DeletedInfo()
		if at == nil || !PurgeEligible(*at, now) {
			continue
		}
		if err := t.remove(tx, p.RecordID()); err != nil {
			return nil, err
		}
		out = append(out, sweptRecord{entity: t.entity, id: p.RecordID(), company: p.Company(), record: rec})
	}
	return out, nil
}

// Cleanup runs the retention sweeper on behalf of actor. Admin and Success
// Manager only; the sweep itself spans every company.
func (s *Service) Cleanup(ctx context.Context, actor User) (CleanupReport, error) {
	var report CleanupReport
	err := s.run(ctx, "cleanup", func(ctx context.Context) error {
		if _, err := actorScope(actor, PermCleanup, EntityAuditLog); err != nil {
			return err
		}
		var err error
		report, err = s.sweep(ctx, actor.ID)
		return err
	})
	return report, err
}

// Sweep runs the retention sweeper as actorID without role checks. It is the
// entry point for scheduled invocations.
func (s *Service) Sweep(ctx context.Context, actorID string) (CleanupReport, error) {
	var report CleanupReport
	err := s.run(ctx, "sweep", func(ctx context.Context) error {
		var err error
		report, err = s.sweep(ctx, actorID)
		return err
	})
	return report, err
}

// sweep purges every eligible record in one transaction. Re-running it right
// after a successful sweep purges nothing.
func (s *Service) sweep(ctx context.Context, actorID string) (CleanupReport, error) {
	now := s.clock.Now()
	report := CleanupReport{ID: uuid.NewString(), Purged: make(map[EntityType]int), RanAt: now}
	var swept []sweptRecord
	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		swept = swept[:0]
		steps := []func() ([]sweptRecord, error){
			func() ([]sweptRecord, error) { return sweepTable(tx, animalTable, now) },
			func() ([]sweptRecord, error) { return sweepTable(tx, cageTable, now) },
			func() ([]sweptRecord, error) { return sweepTable(tx, strainTable, now) },
			func() ([]sweptRecord, error) { return sweepTable(tx, genotypeTable, now) },
			func() ([]sweptRecord, error) { return sweepTable(tx, qrCodeTable, now) },
			func() ([]sweptRecord, error) { return sweepTable(tx, userTable, now) },
		}
		for _, step := range steps {
			recs, err := step()
			if err != nil {
				return err
			}
			swept = append(swept, recs...)
		}
		return nil
	})
	if err != nil {
		return CleanupReport{}, err
	}

	records := make([]auditRecord, 0, len(swept)+1)
	for _, rec := range swept {
		report.Purged[rec.entity]++
		report.Total++
		records = append(records, auditRecord{
			actorID:  actorID,
			company:  rec.company,
			action:   domain.AuditPermanentDelete,
			table:    rec.entity,
			recordID: rec.id,
			changes:  changeSet{Before: rec.record},
		})
		s.archiveTombstone(ctx, rec.entity, rec.id, actorID, rec.record)
	}
	records = append(records, auditRecord{
		actorID:  actorID,
		action:   domain.AuditCleanup,
		table:    cleanupTable,
		recordID: report.ID,
		changes:  map[string]any{"purged": report.Purged, "total": report.Total, "retention_days": RetentionDays},
	})
	s.recordAudit(ctx, records...)

	if rec, ok := s.metrics.(RetentionRecorder); ok {
		for _, entity := range domain.TrashableEntities {
			rec.ObservePurged(entity, report.Purged[entity])
		}
	}
	s.logger.Info("retention sweep finished", "sweep_id", report.ID, "total", report.Total, "actor", actorID)
	return report, nil
}
