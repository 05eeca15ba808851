package core_test

import (
	"context"
	"errors"
	"testing"

	"vivarium/internal/core"
	"vivarium/pkg/domain"
)

func newUser(email string, role domain.Role) domain.UserPatch {
	return domain.UserPatch{Email: ptr(email), Name: ptr("Lab " + string(role)), Role: ptr(role)}
}

func TestCreateUserAssignsCompanyFromScope(t *testing.T) {
	h := newHarness(t)
	u, err := h.svc.CreateUser(context.Background(), directorA, newUser(" Tech@Lab.Example ", domain.RoleEmployee))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.CompanyID == nil || *u.CompanyID != companyA {
		t.Fatalf("expected company from scope, got %v", u.CompanyID)
	}
	if u.Email != "tech@lab.example" {
		t.Fatalf("expected normalized email, got %q", u.Email)
	}
}

func TestOnlyAdminsGrantAdminRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.CreateUser(ctx, directorA, newUser("boss@lab.example", domain.RoleAdmin)); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected director granting admin to be forbidden, got %v", err)
	}
	u, err := h.svc.CreateUser(ctx, directorA, newUser("tech@lab.example", domain.RoleEmployee))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.svc.UpdateUser(ctx, directorA, u.ID, domain.UserPatch{Role: ptr(domain.RoleAdmin)}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected promotion to admin to be forbidden, got %v", err)
	}
	if _, err := h.svc.CreateUser(ctx, employeeA, newUser("x@lab.example", domain.RoleEmployee)); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected employees to be unable to manage users, got %v", err)
	}
}

func TestCreateUserInCompanyIsAdminOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co, err := h.svc.CreateCompany(ctx, admin, core.CompanyInput{Name: "Acme Labs"})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	if _, err := h.svc.CreateUserInCompany(ctx, directorA, co.ID, newUser("d@lab.example", domain.RoleDirector)); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected director to be forbidden, got %v", err)
	}
	if _, err := h.svc.CreateUserInCompany(ctx, admin, "missing", newUser("d@lab.example", domain.RoleDirector)); !isNotFound(err) {
		t.Fatalf("expected unknown company to be not found, got %v", err)
	}
	u, err := h.svc.CreateUserInCompany(ctx, admin, co.ID, newUser("d@lab.example", domain.RoleDirector))
	if err != nil {
		t.Fatalf("create in company: %v", err)
	}
	if *u.CompanyID != co.ID {
		t.Fatalf("expected company %s, got %s", co.ID, *u.CompanyID)
	}
	if _, err := h.svc.CreateUser(ctx, admin, newUser("e@lab.example", domain.RoleEmployee)); err == nil {
		t.Fatalf("expected non-admin user without company to be rejected")
	}
}

func TestReassignUserCompany(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	coA, err := h.svc.CreateCompany(ctx, admin, core.CompanyInput{Name: "A"})
	if err != nil {
		t.Fatalf("company A: %v", err)
	}
	coB, err := h.svc.CreateCompany(ctx, admin, core.CompanyInput{Name: "B"})
	if err != nil {
		t.Fatalf("company B: %v", err)
	}
	u, err := h.svc.CreateUserInCompany(ctx, admin, coA.ID, newUser("mover@lab.example", domain.RoleEmployee))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	moved, err := h.svc.ReassignUserCompany(ctx, admin, u.ID, &coB.ID)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if *moved.CompanyID != coB.ID {
		t.Fatalf("expected company B, got %s", *moved.CompanyID)
	}
	if _, err := h.svc.ReassignUserCompany(ctx, admin, u.ID, nil); err == nil {
		t.Fatalf("expected removing company from a non-admin to fail")
	}
	director := actor("d", domain.RoleDirector, coB.ID)
	if _, err := h.svc.ReassignUserCompany(ctx, director, u.ID, &coA.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected director reassign to be forbidden, got %v", err)
	}
	if _, err := h.svc.UpdateUser(ctx, director, u.ID, domain.UserPatch{Name: ptr("Renamed")}); err != nil {
		t.Fatalf("director in new company should manage the user: %v", err)
	}
}

func TestAuthenticateRejectsInactiveUsers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, err := h.svc.CreateUser(ctx, directorA, newUser("tech@lab.example", domain.RoleEmployee))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.svc.Authenticate(ctx, u.ID); err != nil {
		t.Fatalf("authenticate active: %v", err)
	}
	if _, err := h.svc.SetUserBlocked(ctx, directorA, u.ID, true); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := h.svc.Authenticate(ctx, u.ID); !errors.Is(err, core.ErrUserInactive) {
		t.Fatalf("expected blocked user rejected, got %v", err)
	}
	if _, err := h.svc.SetUserBlocked(ctx, directorA, u.ID, false); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, err := h.svc.DeleteUser(ctx, directorA, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.svc.Authenticate(ctx, u.ID); !errors.Is(err, core.ErrUserInactive) {
		t.Fatalf("expected deleted user rejected, got %v", err)
	}
	if _, err := h.svc.Authenticate(ctx, "missing"); !isNotFound(err) {
		t.Fatalf("expected unknown user not found, got %v", err)
	}
}

func TestUsersCannotBlockOrDeleteThemselves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	self, err := h.svc.CreateUser(ctx, directorA, newUser("self@lab.example", domain.RoleDirector))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.svc.SetUserBlocked(ctx, self, self.ID, true); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected self block to be forbidden, got %v", err)
	}
	if _, err := h.svc.DeleteUser(ctx, self, self.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected self delete to be forbidden, got %v", err)
	}
}

func TestDuplicateEmailIsRuleViolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.CreateUser(ctx, directorA, newUser("dup@lab.example", domain.RoleEmployee)); err != nil {
		t.Fatalf("first: %v", err)
	}
	director := actor("db", domain.RoleDirector, companyB)
	_, err := h.svc.CreateUser(ctx, director, newUser("DUP@lab.example", domain.RoleEmployee))
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation for global email uniqueness, got %v", err)
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, created, err := h.svc.EnsureAdmin(ctx, "root@lab.example", "Root")
	if err != nil || !created {
		t.Fatalf("expected bootstrap admin to be created: created=%v err=%v", created, err)
	}
	second, created, err := h.svc.EnsureAdmin(ctx, "ROOT@lab.example", "Root")
	if err != nil || created {
		t.Fatalf("expected existing admin to be reused: created=%v err=%v", created, err)
	}
	if first.ID != second.ID || second.Role != domain.RoleAdmin {
		t.Fatalf("unexpected admin %+v", second)
	}
}

func TestCompaniesAreAdminOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.CreateCompany(ctx, directorA, core.CompanyInput{Name: "X"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := h.svc.CreateCompany(ctx, admin, core.CompanyInput{Name: "Beta"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.svc.CreateCompany(ctx, admin, core.CompanyInput{Name: "beta"}); err == nil {
		t.Fatalf("expected duplicate company name to be rejected")
	}
	list, err := h.svc.ListCompanies(ctx, admin)
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected companies %+v err=%v", list, err)
	}
}
