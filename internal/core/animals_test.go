package core_test

import (
	"context"
	"errors"
	"testing"

	"vivarium/internal/core"
	"vivarium/internal/infra/persistence/memory"
	"vivarium/pkg/domain"
)

func TestAnimalDefaultsAndReferenceChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.animal(t, employeeA, "M1", nil)
	if a.Sex != domain.SexUnknown || a.Status != domain.AnimalStatusActive || a.Health != domain.HealthHealthy {
		t.Fatalf("unexpected defaults %+v", a)
	}

	foreign := h.cage(t, employeeB, "C9")
	_, err := h.svc.CreateAnimal(ctx, employeeA, domain.AnimalPatch{AnimalNumber: ptr("M2"), CageID: &foreign.ID})
	var ve domain.ValidationError
	if !errors.As(err, &ve) || ve.Fields[0].Field != "cage_id" {
		t.Fatalf("expected cage_id validation error, got %v", err)
	}
	if _, err := h.svc.CreateAnimal(ctx, employeeA, domain.AnimalPatch{}); !errors.As(err, &ve) {
		t.Fatalf("expected missing animal number to fail validation, got %v", err)
	}
	bad := domain.Sex("other")
	if _, err := h.svc.UpdateAnimal(ctx, employeeA, a.ID, domain.AnimalPatch{Sex: &bad}); !errors.As(err, &ve) {
		t.Fatalf("expected invalid sex to fail validation, got %v", err)
	}
}

func TestDanglingReferencesRenderUnknown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	strain, err := h.svc.CreateStrain(ctx, employeeA, domain.LabelPatch{Name: ptr("C57BL/6")})
	if err != nil {
		t.Fatalf("strain: %v", err)
	}
	geno, err := h.svc.CreateGenotype(ctx, employeeA, domain.LabelPatch{Name: ptr("Het")})
	if err != nil {
		t.Fatalf("genotype: %v", err)
	}
	cage, err := h.svc.CreateCage(ctx, employeeA, domain.CagePatch{CageNumber: ptr("C1"), StrainID: &strain.ID})
	if err != nil {
		t.Fatalf("cage: %v", err)
	}
	a, err := h.svc.CreateAnimal(ctx, employeeA, domain.AnimalPatch{AnimalNumber: ptr("M1"), CageID: &cage.ID, StrainID: &strain.ID, GenotypeID: &geno.ID})
	if err != nil {
		t.Fatalf("animal: %v", err)
	}
	view, err := h.svc.GetAnimal(ctx, employeeA, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.StrainName != "C57BL/6" || view.GenotypeName != "Het" || view.CageNumber != "C1" {
		t.Fatalf("unexpected resolved view %+v", view)
	}

	if _, err := h.svc.DeleteStrain(ctx, employeeA, strain.ID); err != nil {
		t.Fatalf("delete strain: %v", err)
	}
	if _, err := h.svc.DeleteGenotype(ctx, employeeA, geno.ID); err != nil {
		t.Fatalf("delete genotype: %v", err)
	}
	view, err = h.svc.GetAnimal(ctx, employeeA, a.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if view.StrainName != "Unknown" || view.GenotypeName != "Unknown" {
		t.Fatalf("expected Unknown for dangling references, got %+v", view)
	}
	if view.StrainID == nil || *view.StrainID != strain.ID {
		t.Fatalf("strain deletion must not cascade to animals")
	}
	cv, err := h.svc.GetCage(ctx, employeeA, cage.ID)
	if err != nil {
		t.Fatalf("get cage: %v", err)
	}
	if cv.StrainName != "Unknown" || cv.Occupancy != 1 {
		t.Fatalf("unexpected cage view %+v", cv)
	}
}

func TestCageCapacityWarnsButCommits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cage, err := h.svc.CreateCage(ctx, employeeA, domain.CagePatch{CageNumber: ptr("C1"), Capacity: ptr(1)})
	if err != nil {
		t.Fatalf("cage: %v", err)
	}
	h.animal(t, employeeA, "M1", &cage.ID)
	second := h.animal(t, employeeA, "M2", nil)
	if _, err := h.svc.AssignAnimalCage(ctx, employeeA, second.ID, cage.ID); err != nil {
		t.Fatalf("over-capacity assignment must succeed: %v", err)
	}
	if h.logger.count("warn", "rule warning") != 1 {
		t.Fatalf("expected one capacity warning to be logged")
	}
	cv, err := h.svc.GetCage(ctx, employeeA, cage.ID)
	if err != nil {
		t.Fatalf("get cage: %v", err)
	}
	if cv.Occupancy != 2 {
		t.Fatalf("expected occupancy 2, got %d", cv.Occupancy)
	}

	if _, err := h.svc.AssignAnimalCage(ctx, employeeA, second.ID, ""); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if _, err := h.svc.AssignAnimalCage(ctx, employeeA, second.ID, "missing"); !isNotFound(err) {
		t.Fatalf("expected unknown cage to be not found, got %v", err)
	}
}

func TestDuplicateAnimalNumberPerCompany(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.animal(t, employeeA, "M1", nil)
	_, err := h.svc.CreateAnimal(ctx, employeeA, domain.AnimalPatch{AnimalNumber: ptr("M1")})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	h.animal(t, employeeB, "M1", nil)

	if _, err := h.svc.DeleteAnimal(ctx, employeeA, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.svc.CreateAnimal(ctx, employeeA, domain.AnimalPatch{AnimalNumber: ptr("M1")}); !errors.As(err, &rv) {
		t.Fatalf("trashed rows keep their key, got %v", err)
	}
	if rows := h.auditRows(t, domain.AuditCreate, ""); len(rows) != 2 {
		t.Fatalf("rejected creates must not be audited, got %d rows", len(rows))
	}
}

func TestUpdatesSkipReferencesThePatchLeavesAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	strain, err := h.svc.CreateStrain(ctx, employeeA, domain.LabelPatch{Name: ptr("C57BL/6")})
	if err != nil {
		t.Fatalf("strain: %v", err)
	}
	cage, err := h.svc.CreateCage(ctx, employeeA, domain.CagePatch{CageNumber: ptr("C1"), StrainID: &strain.ID})
	if err != nil {
		t.Fatalf("cage: %v", err)
	}
	a, err := h.svc.CreateAnimal(ctx, employeeA, domain.AnimalPatch{AnimalNumber: ptr("M1"), StrainID: &strain.ID})
	if err != nil {
		t.Fatalf("animal: %v", err)
	}
	if _, err := h.svc.DeleteStrain(ctx, employeeA, strain.ID); err != nil {
		t.Fatalf("delete strain: %v", err)
	}

	if _, err := h.svc.UpdateCage(ctx, employeeA, cage.ID, domain.CagePatch{Notes: ptr("moved to rack 2")}); err != nil {
		t.Fatalf("notes update on cage with deleted strain: %v", err)
	}
	updated, err := h.svc.UpdateAnimal(ctx, employeeA, a.ID, domain.AnimalPatch{Notes: ptr("weighed")})
	if err != nil {
		t.Fatalf("notes update on animal with deleted strain: %v", err)
	}
	if updated.StrainID == nil || *updated.StrainID != strain.ID {
		t.Fatalf("untouched strain reference must be kept, got %+v", updated.StrainID)
	}

	// Re-pointing at the deleted strain is still rejected.
	var ve domain.ValidationError
	_, err = h.svc.UpdateAnimal(ctx, employeeA, a.ID, domain.AnimalPatch{StrainID: &strain.ID})
	if !errors.As(err, &ve) || ve.Fields[0].Field != "strain_id" || ve.Fields[0].Message != "unknown strain reference" {
		t.Fatalf("expected strain_id error, got %v", err)
	}
	_, err = h.svc.UpdateCage(ctx, employeeA, cage.ID, domain.CagePatch{StrainID: &strain.ID})
	if !errors.As(err, &ve) || ve.Fields[0].Message != "unknown strain reference" {
		t.Fatalf("expected strain_id error on cage, got %v", err)
	}
}

func TestAdminInventoryCreatesNeedACompany(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var ve domain.ValidationError
	if _, err := h.svc.CreateAnimal(ctx, admin, domain.AnimalPatch{AnimalNumber: ptr("M1")}); !errors.As(err, &ve) || ve.Fields[0].Field != "company_id" {
		t.Fatalf("expected company_id error for unscoped animal create, got %v", err)
	}
	if _, err := h.svc.CreateCage(ctx, admin, domain.CagePatch{CageNumber: ptr("C1")}); !errors.As(err, &ve) {
		t.Fatalf("expected company_id error for unscoped cage create, got %v", err)
	}
	if _, err := h.svc.CreateStrain(ctx, admin, domain.LabelPatch{Name: ptr("BALB/c")}); !errors.As(err, &ve) {
		t.Fatalf("expected company_id error for unscoped strain create, got %v", err)
	}
	if _, err := h.svc.GenerateBlankQRCodes(ctx, admin, 1); !errors.As(err, &ve) {
		t.Fatalf("expected company_id error for unscoped blank codes, got %v", err)
	}

	ghost, err := core.ActingIn(admin, "missing")
	if err != nil {
		t.Fatalf("acting in: %v", err)
	}
	if _, err := h.svc.CreateCage(ctx, ghost, domain.CagePatch{CageNumber: ptr("C1")}); !errors.As(err, &ve) || ve.Fields[0].Message != "unknown company" {
		t.Fatalf("expected unknown company, got %v", err)
	}

	co, err := h.svc.CreateCompany(ctx, admin, core.CompanyInput{Name: "Acme"})
	if err != nil {
		t.Fatalf("company: %v", err)
	}
	inCo, err := core.ActingIn(admin, co.ID)
	if err != nil {
		t.Fatalf("acting in: %v", err)
	}
	a, err := h.svc.CreateAnimal(ctx, inCo, domain.AnimalPatch{AnimalNumber: ptr("M1")})
	if err != nil {
		t.Fatalf("admin create in company: %v", err)
	}
	if a.CompanyID == nil || *a.CompanyID != co.ID {
		t.Fatalf("expected animal owned by %s, got %v", co.ID, a.CompanyID)
	}
	member := actor("member", domain.RoleEmployee, co.ID)
	if _, err := h.svc.GetAnimal(ctx, member, a.ID); err != nil {
		t.Fatalf("company member must see the admin-created animal: %v", err)
	}

	if _, err := core.ActingIn(employeeA, companyB); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected non-admin acting in another company to be forbidden, got %v", err)
	}
	if same, err := core.ActingIn(employeeA, companyA); err != nil || *same.CompanyID != companyA {
		t.Fatalf("acting in own company: %+v %v", same, err)
	}
}

func TestReferencesStayInsideTheirCompany(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	coA, err := h.svc.CreateCompany(ctx, admin, core.CompanyInput{Name: "A"})
	if err != nil {
		t.Fatalf("company a: %v", err)
	}
	coB, err := h.svc.CreateCompany(ctx, admin, core.CompanyInput{Name: "B"})
	if err != nil {
		t.Fatalf("company b: %v", err)
	}
	inA, _ := core.ActingIn(admin, coA.ID)
	inB, _ := core.ActingIn(admin, coB.ID)

	animalA, err := h.svc.CreateAnimal(ctx, inA, domain.AnimalPatch{AnimalNumber: ptr("M1")})
	if err != nil {
		t.Fatalf("animal a: %v", err)
	}
	cageB, err := h.svc.CreateCage(ctx, inB, domain.CagePatch{CageNumber: ptr("C1")})
	if err != nil {
		t.Fatalf("cage b: %v", err)
	}
	strainB, err := h.svc.CreateStrain(ctx, inB, domain.LabelPatch{Name: ptr("BALB/c")})
	if err != nil {
		t.Fatalf("strain b: %v", err)
	}

	if _, err := h.svc.AssignAnimalCage(ctx, admin, animalA.ID, cageB.ID); !isNotFound(err) {
		t.Fatalf("expected cross-company cage assignment to fail, got %v", err)
	}
	var ve domain.ValidationError
	_, err = h.svc.CreateAnimal(ctx, inA, domain.AnimalPatch{AnimalNumber: ptr("M2"), StrainID: &strainB.ID})
	if !errors.As(err, &ve) || ve.Fields[0].Message != "unknown strain reference" {
		t.Fatalf("expected foreign strain to be rejected, got %v", err)
	}
	_, err = h.svc.UpdateAnimal(ctx, admin, animalA.ID, domain.AnimalPatch{CageID: &cageB.ID})
	if !errors.As(err, &ve) || ve.Fields[0].Message != "unknown cage reference" {
		t.Fatalf("expected foreign cage to be rejected on update, got %v", err)
	}

	qrA, err := h.svc.CreateQRCode(ctx, inA, core.QRCodeInput{QRData: "external-1"})
	if err != nil {
		t.Fatalf("qr a: %v", err)
	}
	if _, err := h.svc.ClaimQRCode(ctx, admin, qrA.ID, cageB.ID); !isNotFound(err) {
		t.Fatalf("expected cross-company claim to fail, got %v", err)
	}
}

func TestOccupancyIgnoresAnimalsOfOtherCompanies(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(core.NewDefaultRulesEngine())
	svc := core.NewService(store, core.WithClock(newFakeClock()))
	cage, err := svc.CreateCage(ctx, employeeA, domain.CagePatch{CageNumber: ptr("C1")})
	if err != nil {
		t.Fatalf("cage: %v", err)
	}
	if _, err := svc.CreateAnimal(ctx, employeeA, domain.AnimalPatch{AnimalNumber: ptr("M1"), CageID: &cage.ID}); err != nil {
		t.Fatalf("animal: %v", err)
	}
	// Rows written before references were company-checked.
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateAnimal(domain.Animal{
			Tenancy:      domain.Tenancy{CompanyID: ptr(companyB)},
			AnimalNumber: "X1",
			CageID:       &cage.ID,
			Sex:          domain.SexUnknown,
			Status:       domain.AnimalStatusActive,
			Health:       domain.HealthHealthy,
		})
		return err
	}); err != nil {
		t.Fatalf("seed foreign animal: %v", err)
	}

	got, err := svc.GetCage(ctx, employeeA, cage.ID)
	if err != nil {
		t.Fatalf("get cage: %v", err)
	}
	if got.Occupancy != 1 {
		t.Fatalf("expected occupancy 1, got %d", got.Occupancy)
	}
}
