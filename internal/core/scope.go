package core

import (
	"fmt"

	"vivarium/pkg/domain"
)

// Scope is the tenant boundary applied to every read and write. The zero
// value is unscoped and is only produced for Admin actors.
type Scope struct {
	companyID string
}

// ResolveScope derives the tenant scope for an actor. Admins are unscoped;
// everyone else is confined to their company and fails with
// domain.ErrNoCompanyAssigned when they have none.
func ResolveScope(actor User) (Scope, error) {
	if actor.Role == domain.RoleAdmin {
		return Scope{}, nil
	}
	if actor.CompanyID == nil || *actor.CompanyID == "" {
		return Scope{}, fmt.Errorf("user %s: %w", actor.ID, domain.ErrNoCompanyAssigned)
	}
	return Scope{companyID: *actor.CompanyID}, nil
}

// ScopeForCompany returns a scope confined to companyID.
func ScopeForCompany(companyID string) Scope {
	return Scope{companyID: companyID}
}

// Unscoped reports whether the scope spans all companies.
func (s Scope) Unscoped() bool { return s.companyID == "" }

// CompanyID returns the scoped company, or nil when unscoped.
func (s Scope) CompanyID() *string {
	if s.Unscoped() {
		return nil
	}
	id := s.companyID
	return &id
}

// Allows reports whether a record owned by company is visible in the scope.
func (s Scope) Allows(company *string) bool {
	if s.Unscoped() {
		return true
	}
	return company != nil && *company == s.companyID
}
