package core

import (
	"context"
	"fmt"

	"vivarium/pkg/domain"
)

// NewQRClaimIntegrityRule blocks partial claim state and rebinding of claimed codes.
func NewQRClaimIntegrityRule() domain.Rule {
	return qrClaimIntegrityRule{}
}

type qrClaimIntegrityRule struct{}

func (qrClaimIntegrityRule) Name() string { return "qr_claim_integrity" }

func (qrClaimIntegrityRule) Entities() []domain.EntityType {
	return []domain.EntityType{domain.EntityQRCode}
}

func (r qrClaimIntegrityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityQRCode {
			continue
		}
		after, ok := change.After.(domain.QRCode)
		if !ok {
			continue
		}
		set := 0
		if after.CageID != nil {
			set++
		}
		if after.ClaimedAt != nil {
			set++
		}
		if after.ClaimedBy != nil {
			set++
		}
		if set != 0 && set != 3 {
			res.Violations = append(res.Violations, r.violation(after.ID, "cage_id, claimed_at and claimed_by must transition together"))
			continue
		}
		before, ok := change.Before.(domain.QRCode)
		if !ok || before.CageID == nil {
			continue
		}
		if after.CageID == nil || *after.CageID != *before.CageID {
			res.Violations = append(res.Violations, r.violation(after.ID, "claimed code cannot be rebound or unclaimed"))
		}
	}
	return res, nil
}

func (r qrClaimIntegrityRule) violation(id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     r.Name(),
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf("qr code %s: %s", id, msg),
		Entity:   domain.EntityQRCode,
		EntityID: id,
	}
}
