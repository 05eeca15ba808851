package core

import (
	"context"

	"vivarium/pkg/domain"
)

// Strains and genotypes are name/description labels. Deleting one never
// cascades; animals and cages still referencing it render "Unknown".

// ListStrains returns active strains in the actor's scope.
func (s *Service) ListStrains(ctx context.Context, actor User) ([]Strain, error) {
	return listRecords(ctx, s, strainTable, actor)
}

// GetStrain returns an active strain.
func (s *Service) GetStrain(ctx context.Context, actor User, id string) (Strain, error) {
	return getRecord(ctx, s, strainTable, actor, id)
}

// CreateStrain creates a strain in the actor's company.
func (s *Service) CreateStrain(ctx context.Context, actor User, in domain.LabelPatch) (Strain, error) {
	return createRecord(ctx, s, strainTable, actor, func(tx Transaction, scope Scope) (Strain, error) {
		var st Strain
		in.ApplyStrain(&st)
		company, err := inventoryOwner(tx.Snapshot(), scope, actor)
		if err != nil {
			return Strain{}, err
		}
		st.CompanyID = company
		if err := domain.ValidateLabel(st.Name); err != nil {
			return Strain{}, err
		}
		return tx.CreateStrain(st)
	})
}

// UpdateStrain applies a patch to an active strain.
func (s *Service) UpdateStrain(ctx context.Context, actor User, id string, patch domain.LabelPatch) (Strain, error) {
	return updateRecord(ctx, s, strainTable, "update_strains", actor, id, func(_ TransactionView, _ Scope, st *Strain) error {
		if err := patch.Validate(); err != nil {
			return err
		}
		patch.ApplyStrain(st)
		return nil
	})
}

// DeleteStrain soft deletes a strain.
func (s *Service) DeleteStrain(ctx context.Context, actor User, id string) (Strain, error) {
	return softDeleteRecord(ctx, s, strainTable, actor, id)
}

// RestoreStrain returns a soft-deleted strain to the active list.
func (s *Service) RestoreStrain(ctx context.Context, actor User, id string) (Strain, error) {
	return restoreRecord(ctx, s, strainTable, actor, id)
}

// PurgeStrain permanently removes a soft-deleted strain.
func (s *Service) PurgeStrain(ctx context.Context, actor User, id string) error {
	return purgeRecord(ctx, s, strainTable, actor, id)
}

// PurgeStrains permanently removes each soft-deleted strain in ids.
func (s *Service) PurgeStrains(ctx context.Context, actor User, ids []string) (BatchResult, error) {
	return batchPurge(ctx, s, strainTable, actor, ids)
}

// StrainTrash lists soft-deleted strains.
func (s *Service) StrainTrash(ctx context.Context, actor User) ([]TrashEntry[Strain], error) {
	return listTrash(ctx, s, strainTable, actor)
}

// ListGenotypes returns active genotypes in the actor's scope.
func (s *Service) ListGenotypes(ctx context.Context, actor User) ([]Genotype, error) {
	return listRecords(ctx, s, genotypeTable, actor)
}

// GetGenotype returns an active genotype.
func (s *Service) GetGenotype(ctx context.Context, actor User, id string) (Genotype, error) {
	return getRecord(ctx, s, genotypeTable, actor, id)
}

// CreateGenotype creates a genotype in the actor's company.
func (s *Service) CreateGenotype(ctx context.Context, actor User, in domain.LabelPatch) (Genotype, error) {
	return createRecord(ctx, s, genotypeTable, actor, func(tx Transaction, scope Scope) (Genotype, error) {
		var g Genotype
		in.ApplyGenotype(&g)
		company, err := inventoryOwner(tx.Snapshot(), scope, actor)
		if err != nil {
			return Genotype{}, err
		}
		g.CompanyID = company
		if err := domain.ValidateLabel(g.Name); err != nil {
			return Genotype{}, err
		}
		return tx.CreateGenotype(g)
	})
}

// UpdateGenotype applies a patch to an active genotype.
func (s *Service) UpdateGenotype(ctx context.Context, actor User, id string, patch domain.LabelPatch) (Genotype, error) {
	return updateRecord(ctx, s, genotypeTable, "update_genotypes", actor, id, func(_ TransactionView, _ Scope, g *Genotype) error {
		if err := patch.Validate(); err != nil {
			return err
		}
		patch.ApplyGenotype(g)
		return nil
	})
}

// DeleteGenotype soft deletes a genotype.
func (s *Service) DeleteGenotype(ctx context.Context, actor User, id string) (Genotype, error) {
	return softDeleteRecord(ctx, s, genotypeTable, actor, id)
}

// RestoreGenotype returns a soft-deleted genotype to the active list.
func (s *Service) RestoreGenotype(ctx context.Context, actor User, id string) (Genotype, error) {
	return restoreRecord(ctx, s, genotypeTable, actor, id)
}

// PurgeGenotype permanently removes a soft-deleted genotype.
func (s *Service) PurgeGenotype(ctx context.Context, actor User, id string) error {
	return purgeRecord(ctx, s, genotypeTable, actor, id)
}

// PurgeGenotypes permanently removes each soft-deleted genotype in ids.
func (s *Service) PurgeGenotypes(ctx context.Context, actor User, ids []string) (BatchResult, error) {
	return batchPurge(ctx, s, genotypeTable, actor, ids)
}

// GenotypeTrash lists soft-deleted genotypes.
func (s *Service) GenotypeTrash(ctx context.Context, actor User) ([]TrashEntry[Genotype], error) {
	return listTrash(ctx, s, genotypeTable, actor)
}
