package core

import (
	"context"
	"fmt"

	"vivarium/pkg/domain"
)

// NewCageCapacityRule warns when a cage holds more active animals than its
// advisory capacity. It never blocks.
func NewCageCapacityRule() domain.Rule {
	return cageCapacityRule{}
}

type cageCapacityRule struct{}

func (cageCapacityRule) Name() string { return "cage_capacity" }

func (cageCapacityRule) Entities() []domain.EntityType {
	return []domain.EntityType{domain.EntityAnimal, domain.EntityCage}
}

func (r cageCapacityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	cages := make(map[string]struct{})
	for _, change := range changes {
		switch after := change.After.(type) {
		case domain.Animal:
			if after.CageID != nil {
				cages[*after.CageID] = struct{}{}
			}
		case domain.Cage:
			cages[after.ID] = struct{}{}
		}
	}
	res := domain.Result{}
	if len(cages) == 0 {
		return res, nil
	}
	occupancy := make(map[string]int)
	for _, animal := range view.ListAnimals() {
		if animal.CageID == nil || animal.IsDeleted() {
			continue
		}
		occupancy[*animal.CageID]++
	}
	for id := range cages {
		cage, ok := view.FindCage(id)
		if !ok || cage.Capacity <= 0 {
			continue
		}
		if count := occupancy[id]; count > cage.Capacity {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("cage %s (%s) over capacity: %d/%d animals", cage.CageNumber, cage.ID, count, cage.Capacity),
				Entity:   domain.EntityCage,
				EntityID: cage.ID,
			})
		}
	}
	return res, nil
}
