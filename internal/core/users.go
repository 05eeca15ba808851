package core

import (
	"context"
	"errors"
	"fmt"

	"vivarium/pkg/domain"
)

// ErrUserInactive is returned when a blocked or soft-deleted user authenticates.
var ErrUserInactive = errors.New("user blocked or deleted")

// Authenticate loads the acting user for a request. Blocked and soft-deleted
// users are rejected.
func (s *Service) Authenticate(ctx context.Context, userID string) (User, error) {
	var out User
	err := s.run(ctx, "authenticate", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			u, ok := view.FindUser(userID)
			if !ok {
				return notFound(EntityUser, userID)
			}
			if u.IsBlocked || u.IsDeleted() {
				return fmt.Errorf("user %s: %w", userID, ErrUserInactive)
			}
			out = u
			return nil
		})
	})
	return out, err
}

// ListUsers returns active users in the actor's scope.
func (s *Service) ListUsers(ctx context.Context, actor User) ([]User, error) {
	return listRecords(ctx, s, userTable, actor)
}

// GetUser returns an active user.
func (s *Service) GetUser(ctx context.Context, actor User, id string) (User, error) {
	return getRecord(ctx, s, userTable, actor, id)
}

// CreateUser creates a user in the actor's company. Only Admins may grant the
// Admin role; a user without a company must be an Admin.
func (s *Service) CreateUser(ctx context.Context, actor User, in domain.UserPatch) (User, error) {
	return createRecord(ctx, s, userTable, actor, func(tx Transaction, scope Scope) (User, error) {
		return s.insertUser(tx, actor, in, ownerCompany(scope, actor))
	})
}

// CreateUserInCompany creates a user in an explicitly chosen company. Admin only.
func (s *Service) CreateUserInCompany(ctx context.Context, actor User, companyID string, in domain.UserPatch) (User, error) {
	return createRecord(ctx, s, userTable, actor, func(tx Transaction, _ Scope) (User, error) {
		if err := Authorize(actor, PermManageCompanies, EntityCompany); err != nil {
			return User{}, err
		}
		if _, ok := tx.Snapshot().FindCompany(companyID); !ok {
			return User{}, notFound(EntityCompany, companyID)
		}
		company := companyID
		return s.insertUser(tx, actor, in, &company)
	})
}

func (s *Service) insertUser(tx Transaction, actor User, in domain.UserPatch, company *string) (User, error) {
	var u User
	in.Apply(&u)
	u.CompanyID = company
	if err := domain.ValidateUser(u); err != nil {
		return User{}, err
	}
	if err := checkRoleGrant(actor, u.Role); err != nil {
		return User{}, err
	}
	if u.Role != domain.RoleAdmin && u.CompanyID == nil {
		return User{}, domain.ValidationError{Fields: []domain.FieldError{{Field: "company_id", Message: "required for non-admin roles"}}}
	}
	return tx.CreateUser(u)
}

func checkRoleGrant(actor User, role Role) error {
	if role == domain.RoleAdmin && actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: only admins may grant the admin role", domain.ErrForbidden)
	}
	return nil
}

// UpdateUser applies a patch to an active user.
func (s *Service) UpdateUser(ctx context.Context, actor User, id string, patch domain.UserPatch) (User, error) {
	return updateRecord(ctx, s, userTable, "update_users", actor, id, func(_ TransactionView, _ Scope, u *User) error {
		if err := patch.Validate(); err != nil {
			return err
		}
		if patch.Role != nil {
			if err := checkRoleGrant(actor, *patch.Role); err != nil {
				return err
			}
		}
		patch.Apply(u)
		if u.Role != domain.RoleAdmin && u.CompanyID == nil {
			return domain.ValidationError{Fields: []domain.FieldError{{Field: "role", Message: "non-admin roles require a company"}}}
		}
		return nil
	})
}

// SetUserBlocked blocks or unblocks a user. Users cannot block themselves.
func (s *Service) SetUserBlocked(ctx context.Context, actor User, id string, blocked bool) (User, error) {
	op := "unblock_users"
	if blocked {
		op = "block_users"
	}
	return updateRecord(ctx, s, userTable, op, actor, id, func(_ TransactionView, _ Scope, u *User) error {
		if blocked && u.ID == actor.ID {
			return fmt.Errorf("%w: cannot block yourself", domain.ErrForbidden)
		}
		u.IsBlocked = blocked
		return nil
	})
}

// ReassignUserCompany moves a user to another company, or out of any company
// when companyID is nil (Admin role only). Admin only.
func (s *Service) ReassignUserCompany(ctx context.Context, actor User, id string, companyID *string) (User, error) {
	var out User
	err := s.run(ctx, "reassign_user_company", func(ctx context.Context) error {
		if err := Authorize(actor, PermManageCompanies, EntityCompany); err != nil {
			return err
		}
		var before User
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			var err error
			if before, err = userTable.active(view, Scope{}, id); err != nil {
				return err
			}
			if companyID != nil {
				if _, ok := view.FindCompany(*companyID); !ok {
					return notFound(EntityCompany, *companyID)
				}
			} else if before.Role != domain.RoleAdmin {
				return domain.ValidationError{Fields: []domain.FieldError{{Field: "company_id", Message: "required for non-admin roles"}}}
			}
			out, err = tx.UpdateUser(id, func(u *User) error {
				if companyID == nil {
					u.CompanyID = nil
					return nil
				}
				c := *companyID
				u.CompanyID = &c
				return nil
			})
			return err
		}); err != nil {
			return err
		}
		s.recordAudit(ctx, auditRecord{
			actorID:  actor.ID,
			company:  out.CompanyID,
			action:   domain.AuditUpdate,
			table:    EntityUser,
			recordID: id,
			changes:  changeSet{Before: before, After: out},
		})
		return nil
	})
	return out, err
}

// DeleteUser soft deletes a user. Users cannot delete themselves.
func (s *Service) DeleteUser(ctx context.Context, actor User, id string) (User, error) {
	if id == actor.ID {
		return User{}, fmt.Errorf("%w: cannot delete yourself", domain.ErrForbidden)
	}
	return softDeleteRecord(ctx, s, userTable, actor, id)
}

// RestoreUser returns a soft-deleted user to the active list.
func (s *Service) RestoreUser(ctx context.Context, actor User, id string) (User, error) {
	return restoreRecord(ctx, s, userTable, actor, id)
}

// PurgeUser permanently removes a soft-deleted user. Admin only.
func (s *Service) PurgeUser(ctx context.Context, actor User, id string) error {
	return purgeRecord(ctx, s, userTable, actor, id)
}

// PurgeUsers permanently removes each soft-deleted user in ids.
func (s *Service) PurgeUsers(ctx context.Context, actor User, ids []string) (BatchResult, error) {
	return batchPurge(ctx, s, userTable, actor, ids)
}

// UserTrash lists soft-deleted users.
func (s *Service) UserTrash(ctx context.Context, actor User) ([]TrashEntry[User], error) {
	return listTrash(ctx, s, userTable, actor)
}

// EnsureAdmin returns the active Admin registered under email, creating it
// when absent. Used to bootstrap an empty installation.
func (s *Service) EnsureAdmin(ctx context.Context, email, name string) (User, bool, error) {
	var (
		out     User
		created bool
	)
	email = domain.NormalizeEmail(email)
	err := s.run(ctx, "ensure_admin", func(ctx context.Context) error {
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			for _, u := range tx.Snapshot().ListUsers() {
				if u.Email != email {
					continue
				}
				if u.Role != domain.RoleAdmin || u.IsDeleted() {
					return fmt.Errorf("bootstrap admin %s: existing user is not an active admin", email)
				}
				out = u
				return nil
			}
			u := User{Email: email, Name: name, Role: domain.RoleAdmin}
			if err := domain.ValidateUser(u); err != nil {
				return err
			}
			var err error
			out, err = tx.CreateUser(u)
			created = err == nil
			return err
		}); err != nil {
			return err
		}
		if created {
			s.logger.Info("bootstrap admin created", "user_id", out.ID, "email", out.Email)
			s.recordAudit(ctx, auditRecord{
				actorID:  SystemActorID,
				action:   domain.AuditCreate,
				table:    EntityUser,
				recordID: out.ID,
				changes:  changeSet{After: out},
			})
		}
		return nil
	})
	return out, created, err
}
