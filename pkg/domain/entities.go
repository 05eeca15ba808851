// Package domain defines the persistent entities, value types, error taxonomy
// and rule evaluation primitives used by vivarium.
package domain

import (
	"encoding/json"
	"time"
)

// EntityType identifies the type of record stored in the domain.
// Values double as audit log table names.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityCompany identifies a tenant record.
	EntityCompany EntityType = "companies"
	// EntityAnimal identifies an individual animal record.
	EntityAnimal EntityType = "animals"
	// EntityCage identifies a cage record.
	EntityCage EntityType = "cages"
	// EntityStrain identifies a strain record.
	EntityStrain EntityType = "strains"
	// EntityGenotype identifies a genotype record.
	EntityGenotype EntityType = "genotypes"
	// EntityQRCode identifies a QR code record.
	EntityQRCode EntityType = "qr_codes"
	// EntityUser identifies a user account.
	EntityUser EntityType = "users"
	// EntityAuditLog identifies an audit log row.
	EntityAuditLog EntityType = "audit_logs"
)

// TrashableEntities lists every entity type that supports soft delete, in sweep order.
var TrashableEntities = []EntityType{
	EntityAnimal,
	EntityCage,
	EntityStrain,
	EntityGenotype,
	EntityQRCode,
	EntityUser,
}

// Role enumerates user roles.
type Role string

// Supported roles.
const (
	RoleAdmin          Role = "Admin"
	RoleDirector       Role = "Director"
	RoleSuccessManager Role = "Success Manager"
	RoleEmployee       Role = "Employee"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDirector, RoleSuccessManager, RoleEmployee:
		return true
	}
	return false
}

// Sex enumerates recorded animal sex.
type Sex string

// Recorded animal sexes.
const (
	SexMale    Sex = "male"
	SexFemale  Sex = "female"
	SexUnknown Sex = "unknown"
)

// AnimalStatus enumerates the husbandry status of an animal.
type AnimalStatus string

// Animal statuses.
const (
	AnimalStatusActive      AnimalStatus = "active"
	AnimalStatusBreeding    AnimalStatus = "breeding"
	AnimalStatusRetired     AnimalStatus = "retired"
	AnimalStatusDeceased    AnimalStatus = "deceased"
	AnimalStatusTransferred AnimalStatus = "transferred"
)

// HealthStatus enumerates animal health observations.
type HealthStatus string

// Health statuses.
const (
	HealthHealthy    HealthStatus = "healthy"
	HealthMonitoring HealthStatus = "monitoring"
	HealthSick       HealthStatus = "sick"
	HealthInjured    HealthStatus = "injured"
)

// CageStatus enumerates operational cage states.
type CageStatus string

// Cage statuses.
const (
	CageStatusActive     CageStatus = "active"
	CageStatusInactive   CageStatus = "inactive"
	CageStatusBreeding   CageStatus = "breeding"
	CageStatusQuarantine CageStatus = "quarantine"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordID returns the record identifier.
func (b Base) RecordID() string { return b.ID }

// StampCreated sets identity and creation metadata on a new record.
func (b *Base) StampCreated(id string, now time.Time) {
	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
}

// StampUpdated records a modification time.
func (b *Base) StampUpdated(now time.Time) {
	b.UpdatedAt = now
}

// Tenancy carries the owning company of a record. CompanyID is nil only for
// Admin accounts.
type Tenancy struct {
	CompanyID *string `json:"company_id"`
}

// Company returns the owning company id, or nil.
func (t Tenancy) Company() *string { return t.CompanyID }

// SoftDelete marks a record inactive without physically removing it.
// DeletedAt and DeletedBy are always set and cleared together.
type SoftDelete struct {
	DeletedAt *time.Time `json:"deleted_at"`
	DeletedBy *string    `json:"deleted_by"`
}

// IsDeleted reports whether the record sits in the trash.
func (s SoftDelete) IsDeleted() bool { return s.DeletedAt != nil }

// DeletedInfo returns the deletion timestamp and actor.
func (s SoftDelete) DeletedInfo() (*time.Time, *string) { return s.DeletedAt, s.DeletedBy }

// MarkDeleted sets both deletion fields.
func (s *SoftDelete) MarkDeleted(at time.Time, by string) {
	ts := at
	actor := by
	s.DeletedAt = &ts
	s.DeletedBy = &actor
}

// ClearDeleted clears both deletion fields.
func (s *SoftDelete) ClearDeleted() {
	s.DeletedAt = nil
	s.DeletedBy = nil
}

// Company is a tenant.
type Company struct {
	Base
	Name string `json:"name"`
}

// Animal represents an individual animal tracked by the system. CageID,
// StrainID and GenotypeID are weak references that may dangle.
type Animal struct {
	Base
	Tenancy
	SoftDelete
	AnimalNumber string       `json:"animal_number"`
	CageID       *string      `json:"cage_id"`
	StrainID     *string      `json:"strain_id"`
	GenotypeID   *string      `json:"genotype_id"`
	Sex          Sex          `json:"sex"`
	Status       AnimalStatus `json:"status"`
	Health       HealthStatus `json:"health"`
	BirthDate    *time.Time   `json:"birth_date,omitempty"`
	Notes        string       `json:"notes,omitempty"`
}

// Cage is a housing unit. Capacity is advisory.
type Cage struct {
	Base
	Tenancy
	SoftDelete
	CageNumber string     `json:"cage_number"`
	StrainID   *string    `json:"strain_id"`
	Location   string     `json:"location,omitempty"`
	Capacity   int        `json:"capacity"`
	Status     CageStatus `json:"status"`
	Notes      string     `json:"notes,omitempty"`
}

// Strain describes a genetic strain.
type Strain struct {
	Base
	Tenancy
	SoftDelete
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Genotype describes a genotype label applied to animals.
type Genotype struct {
	Base
	Tenancy
	SoftDelete
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// QRCode is a printable code that may be bound to a cage exactly once.
// CageID, ClaimedAt and ClaimedBy are either all nil or all set.
type QRCode struct {
	Base
	Tenancy
	SoftDelete
	QRData    string     `json:"qr_data"`
	IsBlank   bool       `json:"is_blank"`
	CageID    *string    `json:"cage_id"`
	ClaimedAt *time.Time `json:"claimed_at"`
	ClaimedBy *string    `json:"claimed_by"`
}

// Claimed reports whether the code has been bound to a cage.
func (q QRCode) Claimed() bool { return q.CageID != nil }

// User is an account able to act on the system.
type User struct {
	Base
	Tenancy
	SoftDelete
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	IsBlocked bool   `json:"is_blocked"`
}

// AuditAction enumerates audit log actions.
type AuditAction string

// Audit actions.
const (
	AuditCreate          AuditAction = "CREATE"
	AuditUpdate          AuditAction = "UPDATE"
	AuditSoftDelete      AuditAction = "SOFT_DELETE"
	AuditDelete          AuditAction = "DELETE"
	AuditRestore         AuditAction = "RESTORE"
	AuditPermanentDelete AuditAction = "PERMANENT_DELETE"
	AuditClaimQR         AuditAction = "CLAIM_QR"
	AuditGenerateBlankQR AuditAction = "GENERATE_BLANK_QR"
	AuditCleanup         AuditAction = "CLEANUP"
)

// AuditLog is an immutable record of a mutation.
type AuditLog struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	CompanyID *string         `json:"company_id"`
	Action    AuditAction     `json:"action"`
	TableName EntityType      `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Change describes a mutation applied within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported store operations.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity"`
	EntityID string     `json:"entity_id"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
