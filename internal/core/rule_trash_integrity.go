package core

import (
	"context"
	"fmt"
	"time"

	"vivarium/pkg/domain"
)

// NewTrashIntegrityRule blocks writes that leave deletedAt and deletedBy out of step.
func NewTrashIntegrityRule() domain.Rule {
	return trashIntegrityRule{}
}

type trashIntegrityRule struct{}

type trashState interface {
	RecordID() string
	DeletedInfo() (*time.Time, *string)
}

func (trashIntegrityRule) Name() string { return "trash_integrity" }

func (r trashIntegrityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		rec, ok := change.After.(trashState)
		if !ok {
			continue
		}
		at, by := rec.DeletedInfo()
		if (at == nil) == (by == nil) && (by == nil || *by != "") {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%s %s: deleted_at and deleted_by must be set together", change.Entity, rec.RecordID()),
			Entity:   change.Entity,
			EntityID: rec.RecordID(),
		})
	}
	return res, nil
}
