package core

import (
	"context"
	"sort"
	"strings"

	"vivarium/pkg/domain"
)

// CompanyInput is the payload for creating a tenant.
type CompanyInput struct {
	Name string `json:"name"`
}

// CreateCompany registers a tenant. Admin only.
func (s *Service) CreateCompany(ctx context.Context, actor User, in CompanyInput) (Company, error) {
	var out Company
	err := s.run(ctx, "create_companies", func(ctx context.Context) error {
		if err := Authorize(actor, PermWrite, EntityCompany); err != nil {
			return err
		}
		name := strings.TrimSpace(in.Name)
		var v domain.Validator
		v.Check(name != "", "name", "required")
		if err := v.Err(); err != nil {
			return err
		}
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			for _, c := range tx.Snapshot().ListCompanies() {
				if strings.EqualFold(c.Name, name) {
					return domain.ValidationError{Fields: []domain.FieldError{{Field: "name", Message: "already taken"}}}
				}
			}
			var err error
			out, err = tx.CreateCompany(Company{Name: name})
			return err
		}); err != nil {
			return err
		}
		id := out.ID
		s.recordAudit(ctx, auditRecord{
			actorID:  actor.ID,
			company:  &id,
			action:   domain.AuditCreate,
			table:    EntityCompany,
			recordID: out.ID,
			changes:  changeSet{After: out},
		})
		return nil
	})
	return out, err
}

// ListCompanies returns every tenant ordered by name. Admin only.
func (s *Service) ListCompanies(ctx context.Context, actor User) ([]Company, error) {
	var out []Company
	err := s.run(ctx, "list_companies", func(ctx context.Context) error {
		if err := Authorize(actor, PermRead, EntityCompany); err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			out = view.ListCompanies()
			sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
			return nil
		})
	})
	return out, err
}

// GetCompany returns one tenant. Admin only.
func (s *Service) GetCompany(ctx context.Context, actor User, id string) (Company, error) {
	var out Company
	err := s.run(ctx, "get_companies", func(ctx context.Context) error {
		if err := Authorize(actor, PermRead, EntityCompany); err != nil {
			return err
		}
		return s.store.View(ctx, func(view TransactionView) error {
			c, ok := view.FindCompany(id)
			if !ok {
				return notFound(EntityCompany, id)
			}
			out = c
			return nil
		})
	})
	return out, err
}
