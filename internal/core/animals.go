package core

import (
	"context"

	"vivarium/pkg/domain"
)

// AnimalView is an animal with its weak references resolved for display.
type AnimalView struct {
	Animal
	CageNumber   string `json:"cage_number,omitempty"`
	StrainName   string `json:"strain_name,omitempty"`
	GenotypeName string `json:"genotype_name,omitempty"`
}

func animalView(view TransactionView, scope Scope, a Animal) AnimalView {
	return AnimalView{
		Animal:       a,
		CageNumber:   refName(view, cageTable, scope, a.CageID, func(c Cage) string { return c.CageNumber }),
		StrainName:   refName(view, strainTable, scope, a.StrainID, func(s Strain) string { return s.Name }),
		GenotypeName: refName(view, genotypeTable, scope, a.GenotypeID, func(g Genotype) string { return g.Name }),
	}
}

// ListAnimals returns active animals in the actor's scope.
func (s *Service) ListAnimals(ctx context.Context, actor User) ([]AnimalView, error) {
	var out []AnimalView
	err := s.run(ctx, "list_animals", func(ctx context.Context) error {
		scope, err := actorScope(actor, PermRead, EntityAnimal)
		if err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			animals := animalTable.filter(view, scope, false)
			out = make([]AnimalView, 0, len(animals))
			for _, a := range animals {
				out = append(out, animalView(view, scope, a))
			}
			return nil
		})
	})
	return out, err
}

// GetAnimal returns an active animal. Deleted and out-of-scope ids are NotFound.
func (s *Service) GetAnimal(ctx context.Context, actor User, id string) (AnimalView, error) {
	var out AnimalView
	err := s.run(ctx, "get_animals", func(ctx context.Context) error {
		scope, err := actorScope(actor, PermRead, EntityAnimal)
		if err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			a, err := animalTable.active(view, scope, id)
			if err != nil {
				return err
			}
			out = animalView(view, scope, a)
			return nil
		})
	})
	return out, err
}

// CreateAnimal creates an animal in the actor's company. Unset enumerations
// default to unknown sex, active status and healthy.
func (s *Service) CreateAnimal(ctx context.Context, actor User, in domain.AnimalPatch) (Animal, error) {
	return createRecord(ctx, s, animalTable, actor, func(tx Transaction, scope Scope) (Animal, error) {
		a := Animal{Sex: domain.SexUnknown, Status: domain.AnimalStatusActive, Health: domain.HealthHealthy}
		in.Apply(&a)
		view := tx.Snapshot()
		company, err := inventoryOwner(view, scope, actor)
		if err != nil {
			return Animal{}, err
		}
		a.CompanyID = company
		if err := domain.ValidateAnimal(a); err != nil {
			return Animal{}, err
		}
		if err := checkAnimalRefs(view, scope, a, in); err != nil {
			return Animal{}, err
		}
		return tx.CreateAnimal(a)
	})
}

// UpdateAnimal applies a patch to an active animal. Only references the
// patch sets are checked, so an animal whose strain was deleted can still be
// edited.
func (s *Service) UpdateAnimal(ctx context.Context, actor User, id string, patch domain.AnimalPatch) (Animal, error) {
	return updateRecord(ctx, s, animalTable, "update_animals", actor, id, func(view TransactionView, scope Scope, a *Animal) error {
		if err := patch.Validate(); err != nil {
			return err
		}
		patch.Apply(a)
		return checkAnimalRefs(view, scope, *a, patch)
	})
}

// AssignAnimalCage moves an animal into cageID, or out of any cage when
// cageID is empty. The cage must be active, in scope and owned by the
// animal's company.
func (s *Service) AssignAnimalCage(ctx context.Context, actor User, id, cageID string) (Animal, error) {
	return updateRecord(ctx, s, animalTable, "assign_animal_cage", actor, id, func(view TransactionView, scope Scope, a *Animal) error {
		if cageID == "" {
			a.CageID = nil
			return nil
		}
		cage, err := cageTable.active(view, scope, cageID)
		if err != nil {
			return err
		}
		if !sameCompany(cage.CompanyID, a.CompanyID) {
			return notFound(EntityCage, cageID)
		}
		a.CageID = &cageID
		return nil
	})
}

// checkAnimalRefs validates the references set by patch against a.
func checkAnimalRefs(view TransactionView, scope Scope, a Animal, patch domain.AnimalPatch) error {
	var v domain.Validator
	if patch.CageID != nil {
		requireRef(&v, view, cageTable, scope, a.CompanyID, "cage_id", a.CageID)
	}
	if patch.StrainID != nil {
		requireRef(&v, view, strainTable, scope, a.CompanyID, "strain_id", a.StrainID)
	}
	if patch.GenotypeID != nil {
		requireRef(&v, view, genotypeTable, scope, a.CompanyID, "genotype_id", a.GenotypeID)
	}
	return v.Err()
}

// DeleteAnimal soft deletes an animal.
func (s *Service) DeleteAnimal(ctx context.Context, actor User, id string) (Animal, error) {
	return softDeleteRecord(ctx, s, animalTable, actor, id)
}

// RestoreAnimal returns a soft-deleted animal to the active list.
func (s *Service) RestoreAnimal(ctx context.Context, actor User, id string) (Animal, error) {
	return restoreRecord(ctx, s, animalTable, actor, id)
}

// PurgeAnimal permanently removes a soft-deleted animal.
func (s *Service) PurgeAnimal(ctx context.Context, actor User, id string) error {
	return purgeRecord(ctx, s, animalTable, actor, id)
}

// PurgeAnimals permanently removes each soft-deleted animal in ids.
func (s *Service) PurgeAnimals(ctx context.Context, actor User, ids []string) (BatchResult, error) {
	return batchPurge(ctx, s, animalTable, actor, ids)
}

// AnimalTrash lists soft-deleted animals with their retention state.
func (s *Service) AnimalTrash(ctx context.Context, actor User) ([]TrashEntry[Animal], error) {
	return listTrash(ctx, s, animalTable, actor)
}
