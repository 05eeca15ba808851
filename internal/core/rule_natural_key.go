package core

import (
	"context"
	"fmt"
	"strings"

	"vivarium/pkg/domain"
)

// NewNaturalKeyUniquenessRule blocks duplicate natural keys within a company.
// Trashed rows keep their key so a restore can never collide. User emails
// are unique across all companies.
func NewNaturalKeyUniquenessRule() domain.Rule {
	return naturalKeyRule{}
}

type naturalKeyRule struct{}

func (naturalKeyRule) Name() string { return "natural_key_uniqueness" }

type keyedRecord struct {
	id      string
	company string
	key     string
}

func companyKey(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (r naturalKeyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := make(map[domain.EntityType]bool)
	for _, change := range changes {
		if change.After != nil {
			touched[change.Entity] = true
		}
	}
	res := domain.Result{}
	if touched[domain.EntityAnimal] {
		recs := make([]keyedRecord, 0)
		for _, a := range view.ListAnimals() {
			recs = append(recs, keyedRecord{id: a.ID, company: companyKey(a.CompanyID), key: strings.TrimSpace(a.AnimalNumber)})
		}
		r.check(&res, domain.EntityAnimal, "animal_number", recs, true)
	}
	if touched[domain.EntityCage] {
		recs := make([]keyedRecord, 0)
		for _, c := range view.ListCages() {
			recs = append(recs, keyedRecord{id: c.ID, company: companyKey(c.CompanyID), key: strings.TrimSpace(c.CageNumber)})
		}
		r.check(&res, domain.EntityCage, "cage_number", recs, true)
	}
	if touched[domain.EntityStrain] {
		recs := make([]keyedRecord, 0)
		for _, s := range view.ListStrains() {
			recs = append(recs, keyedRecord{id: s.ID, company: companyKey(s.CompanyID), key: strings.ToLower(strings.TrimSpace(s.Name))})
		}
		r.check(&res, domain.EntityStrain, "name", recs, true)
	}
	if touched[domain.EntityGenotype] {
		recs := make([]keyedRecord, 0)
		for _, g := range view.ListGenotypes() {
			recs = append(recs, keyedRecord{id: g.ID, company: companyKey(g.CompanyID), key: strings.ToLower(strings.TrimSpace(g.Name))})
		}
		r.check(&res, domain.EntityGenotype, "name", recs, true)
	}
	if touched[domain.EntityUser] {
		recs := make([]keyedRecord, 0)
		for _, u := range view.ListUsers() {
			recs = append(recs, keyedRecord{id: u.ID, key: domain.NormalizeEmail(u.Email)})
		}
		r.check(&res, domain.EntityUser, "email", recs, false)
	}
	return res, nil
}

func (r naturalKeyRule) check(res *domain.Result, entity domain.EntityType, field string, recs []keyedRecord, perCompany bool) {
	seen := make(map[string]string, len(recs))
	for _, rec := range recs {
		if rec.key == "" {
			continue
		}
		k := rec.key
		if perCompany {
			k = rec.company + "\x00" + rec.key
		}
		if first, dup := seen[k]; dup {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s %q already used by %s", field, rec.key, first),
				Entity:   entity,
				EntityID: rec.id,
			})
			continue
		}
		seen[k] = rec.id
	}
}
