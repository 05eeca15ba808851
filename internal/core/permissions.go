package core

import (
	"fmt"

	"vivarium/pkg/domain"
)

// Permission names an action gated by role.
type Permission string

// Permissions consulted through Authorize.
const (
	PermRead            Permission = "read"
	PermWrite           Permission = "write"
	PermSoftDelete      Permission = "soft_delete"
	PermRestore         Permission = "restore"
	PermPurge           Permission = "purge"
	PermCleanup         Permission = "cleanup"
	PermAuditRead       Permission = "audit_read"
	PermManageCompanies Permission = "manage_companies"
	PermArchiveRead     Permission = "archive_read"
)

type roleSet map[Role]struct{}

func roles(rs ...Role) roleSet {
	set := make(roleSet, len(rs))
	for _, r := range rs {
		set[r] = struct{}{}
	}
	return set
}

var (
	allRoles      = roles(domain.RoleAdmin, domain.RoleDirector, domain.RoleSuccessManager, domain.RoleEmployee)
	adminDirector = roles(domain.RoleAdmin, domain.RoleDirector)
	adminOnly     = roles(domain.RoleAdmin)
)

// inventoryGates applies to animals, cages, strains and genotypes.
var inventoryGates = map[Permission]roleSet{
	PermRead:       allRoles,
	PermWrite:      allRoles,
	PermSoftDelete: allRoles,
	PermRestore:    allRoles,
	PermPurge:      adminDirector,
}

// permissionTable is keyed by entity then permission.
var permissionTable = map[EntityType]map[Permission]roleSet{
	EntityAnimal:   inventoryGates,
	EntityCage:     inventoryGates,
	EntityStrain:   inventoryGates,
	EntityGenotype: inventoryGates,
	EntityQRCode: {
		PermRead:       allRoles,
		PermWrite:      allRoles,
		PermSoftDelete: allRoles,
		PermRestore:    allRoles,
		PermPurge:      adminOnly,
	},
	EntityUser: {
		PermRead:       roles(domain.RoleAdmin, domain.RoleDirector, domain.RoleSuccessManager),
		PermWrite:      adminDirector,
		PermSoftDelete: adminDirector,
		PermRestore:    adminDirector,
		PermPurge:      adminOnly,
	},
	EntityCompany: {
		PermRead:            adminOnly,
		PermWrite:           adminOnly,
		PermManageCompanies: adminOnly,
	},
	EntityAuditLog: {
		PermAuditRead:   roles(domain.RoleAdmin, domain.RoleSuccessManager),
		PermCleanup:     roles(domain.RoleAdmin, domain.RoleSuccessManager),
		PermArchiveRead: adminOnly,
	},
}

// Allowed reports whether role may perform perm on entity.
func Allowed(role Role, perm Permission, entity EntityType) bool {
	gates, ok := permissionTable[entity]
	if !ok {
		return false
	}
	set, ok := gates[perm]
	if !ok {
		return false
	}
	_, ok = set[role]
	return ok
}

// Authorize fails with domain.ErrForbidden unless actor's role may perform perm on entity.
func Authorize(actor User, perm Permission, entity EntityType) error {
	if Allowed(actor.Role, perm, entity) {
		return nil
	}
	return fmt.Errorf("%w: role %q cannot %s %s", domain.ErrForbidden, actor.Role, perm, entity)
}
