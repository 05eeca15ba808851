package core

import (
	"context"

	"vivarium/pkg/domain"
)

// CageView is a cage with its strain resolved and its current occupancy.
type CageView struct {
	Cage
	StrainName string `json:"strain_name,omitempty"`
	Occupancy  int    `json:"occupancy"`
}

// occupancy counts active animals per cage id. Animals of another company
// never count toward a cage.
func occupancy(view TransactionView) map[string]int {
	counts := make(map[string]int)
	for _, a := range view.ListAnimals() {
		if a.IsDeleted() || a.CageID == nil {
			continue
		}
		if c, ok := view.FindCage(*a.CageID); !ok || !sameCompany(c.CompanyID, a.CompanyID) {
			continue
		}
		counts[*a.CageID]++
	}
	return counts
}

func cageView(view TransactionView, scope Scope, c Cage, counts map[string]int) CageView {
	return CageView{
		Cage:       c,
		StrainName: refName(view, strainTable, scope, c.StrainID, func(s Strain) string { return s.Name }),
		Occupancy:  counts[c.ID],
	}
}

// ListCages returns active cages in the actor's scope.
func (s *Service) ListCages(ctx context.Context, actor User) ([]CageView, error) {
	var out []CageView
	err := s.run(ctx, "list_cages", func(ctx context.Context) error {
		scope, err := actorScope(actor, PermRead, EntityCage)
		if err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			cages := cageTable.filter(view, scope, false)
			counts := occupancy(view)
			out = make([]CageView, 0, len(cages))
			for _, c := range cages {
				out = append(out, cageView(view, scope, c, counts))
			}
			return nil
		})
	})
	return out, err
}

// GetCage returns an active cage.
func (s *Service) GetCage(ctx context.Context, actor User, id string) (CageView, error) {
	var out CageView
	err := s.run(ctx, "get_cages", func(ctx context.Context) error {
		scope, err := actorScope(actor, PermRead, EntityCage)
		if err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			c, err := cageTable.active(view, scope, id)
			if err != nil {
				return err
			}
			out = cageView(view, scope, c, occupancy(view))
			return nil
		})
	})
	return out, err
}

// CreateCage creates a cage in the actor's company. Status defaults to active.
func (s *Service) CreateCage(ctx context.Context, actor User, in domain.CagePatch) (Cage, error) {
	return createRecord(ctx, s, cageTable, actor, func(tx Transaction, scope Scope) (Cage, error) {
		c := Cage{Status: domain.CageStatusActive}
		in.Apply(&c)
		view := tx.Snapshot()
		company, err := inventoryOwner(view, scope, actor)
		if err != nil {
			return Cage{}, err
		}
		c.CompanyID = company
		if err := domain.ValidateCage(c); err != nil {
			return Cage{}, err
		}
		if err := checkCageRefs(view, scope, c, in); err != nil {
			return Cage{}, err
		}
		return tx.CreateCage(c)
	})
}

// UpdateCage applies a patch to an active cage. Only a strain the patch sets
// is checked.
func (s *Service) UpdateCage(ctx context.Context, actor User, id string, patch domain.CagePatch) (Cage, error) {
	return updateRecord(ctx, s, cageTable, "update_cages", actor, id, func(view TransactionView, scope Scope, c *Cage) error {
		if err := patch.Validate(); err != nil {
			return err
		}
		patch.Apply(c)
		return checkCageRefs(view, scope, *c, patch)
	})
}

func checkCageRefs(view TransactionView, scope Scope, c Cage, patch domain.CagePatch) error {
	var v domain.Validator
	if patch.StrainID != nil {
		requireRef(&v, view, strainTable, scope, c.CompanyID, "strain_id", c.StrainID)
	}
	return v.Err()
}

// DeleteCage soft deletes a cage. Animals housed in it keep their reference.
func (s *Service) DeleteCage(ctx context.Context, actor User, id string) (Cage, error) {
	return softDeleteRecord(ctx, s, cageTable, actor, id)
}

// RestoreCage returns a soft-deleted cage to the active list.
func (s *Service) RestoreCage(ctx context.Context, actor User, id string) (Cage, error) {
	return restoreRecord(ctx, s, cageTable, actor, id)
}

// PurgeCage permanently removes a soft-deleted cage.
func (s *Service) PurgeCage(ctx context.Context, actor User, id string) error {
	return purgeRecord(ctx, s, cageTable, actor, id)
}

// PurgeCages permanently removes each soft-deleted cage in ids.
func (s *Service) PurgeCages(ctx context.Context, actor User, ids []string) (BatchResult, error) {
	return batchPurge(ctx, s, cageTable, actor, ids)
}

// CageTrash lists soft-deleted cages with their retention state.
func (s *Service) CageTrash(ctx context.Context, actor User) ([]TrashEntry[Cage], error) {
	return listTrash(ctx, s, cageTable, actor)
}
