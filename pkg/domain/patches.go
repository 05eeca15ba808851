package domain

import (
	"strings"
	"time"
)

// Patch types list exactly the mutable fields of each entity. Nil pointers
// leave the stored value untouched. For optional references an empty string
// clears the reference.

// AnimalPatch updates an animal.
type AnimalPatch struct {
	AnimalNumber *string       `json:"animal_number,omitempty"`
	CageID       *string       `json:"cage_id,omitempty"`
	StrainID     *string       `json:"strain_id,omitempty"`
	GenotypeID   *string       `json:"genotype_id,omitempty"`
	Sex          *Sex          `json:"sex,omitempty"`
	Status       *AnimalStatus `json:"status,omitempty"`
	Health       *HealthStatus `json:"health,omitempty"`
	BirthDate    *time.Time    `json:"birth_date,omitempty"`
	Notes        *string       `json:"notes,omitempty"`
}

// Validate checks the patch's enumerations and required values.
func (p AnimalPatch) Validate() error {
	var v Validator
	if p.AnimalNumber != nil {
		v.Check(strings.TrimSpace(*p.AnimalNumber) != "", "animal_number", "must not be empty")
	}
	if p.Sex != nil {
		v.Check(validSex(*p.Sex), "sex", "unknown value")
	}
	if p.Status != nil {
		v.Check(validAnimalStatus(*p.Status), "status", "unknown value")
	}
	if p.Health != nil {
		v.Check(validHealth(*p.Health), "health", "unknown value")
	}
	return v.Err()
}

// Apply writes the patch onto a.
func (p AnimalPatch) Apply(a *Animal) {
	if p.AnimalNumber != nil {
		a.AnimalNumber = strings.TrimSpace(*p.AnimalNumber)
	}
	if p.CageID != nil {
		a.CageID = optionalRef(*p.CageID)
	}
	if p.StrainID != nil {
		a.StrainID = optionalRef(*p.StrainID)
	}
	if p.GenotypeID != nil {
		a.GenotypeID = optionalRef(*p.GenotypeID)
	}
	if p.Sex != nil {
		a.Sex = *p.Sex
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Health != nil {
		a.Health = *p.Health
	}
	if p.BirthDate != nil {
		bd := p.BirthDate.UTC()
		a.BirthDate = &bd
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
}

// CagePatch updates a cage.
type CagePatch struct {
	CageNumber *string     `json:"cage_number,omitempty"`
	StrainID   *string     `json:"strain_id,omitempty"`
	Location   *string     `json:"location,omitempty"`
	Capacity   *int        `json:"capacity,omitempty"`
	Status     *CageStatus `json:"status,omitempty"`
	Notes      *string     `json:"notes,omitempty"`
}

// Validate checks the patch.
func (p CagePatch) Validate() error {
	var v Validator
	if p.CageNumber != nil {
		v.Check(strings.TrimSpace(*p.CageNumber) != "", "cage_number", "must not be empty")
	}
	if p.Capacity != nil {
		v.Check(*p.Capacity >= 0, "capacity", "must not be negative")
	}
	if p.Status != nil {
		v.Check(validCageStatus(*p.Status), "status", "unknown value")
	}
	return v.Err()
}

// Apply writes the patch onto c.
func (p CagePatch) Apply(c *Cage) {
	if p.CageNumber != nil {
		c.CageNumber = strings.TrimSpace(*p.CageNumber)
	}
	if p.StrainID != nil {
		c.StrainID = optionalRef(*p.StrainID)
	}
	if p.Location != nil {
		c.Location = *p.Location
	}
	if p.Capacity != nil {
		c.Capacity = *p.Capacity
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
}

// LabelPatch updates a strain or genotype.
type LabelPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Validate checks the patch.
func (p LabelPatch) Validate() error {
	var v Validator
	if p.Name != nil {
		v.Check(strings.TrimSpace(*p.Name) != "", "name", "must not be empty")
	}
	return v.Err()
}

// ApplyStrain writes the patch onto s.
func (p LabelPatch) ApplyStrain(s *Strain) {
	if p.Name != nil {
		s.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
}

// ApplyGenotype writes the patch onto g.
func (p LabelPatch) ApplyGenotype(g *Genotype) {
	if p.Name != nil {
		g.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		g.Description = *p.Description
	}
}

// QRCodePatch updates a QR code. Claim state is not patchable; see claim.
type QRCodePatch struct {
	IsBlank *bool `json:"is_blank,omitempty"`
}

// Apply writes the patch onto q.
func (p QRCodePatch) Apply(q *QRCode) {
	if p.IsBlank != nil {
		q.IsBlank = *p.IsBlank
	}
}

// UserPatch updates a user. Company moves go through the administrative
// reassignment path; blocking has its own operation.
type UserPatch struct {
	Email *string `json:"email,omitempty"`
	Name  *string `json:"name,omitempty"`
	Role  *Role   `json:"role,omitempty"`
}

// Validate checks the patch.
func (p UserPatch) Validate() error {
	var v Validator
	if p.Email != nil {
		v.Check(validEmail(*p.Email), "email", "must be a valid address")
	}
	if p.Name != nil {
		v.Check(strings.TrimSpace(*p.Name) != "", "name", "must not be empty")
	}
	if p.Role != nil {
		v.Check(p.Role.Valid(), "role", "unknown value")
	}
	return v.Err()
}

// Apply writes the patch onto u.
func (p UserPatch) Apply(u *User) {
	if p.Email != nil {
		u.Email = normalizeEmail(*p.Email)
	}
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
}

// ValidateAnimal checks a fully populated animal before insert.
func ValidateAnimal(a Animal) error {
	var v Validator
	v.Check(strings.TrimSpace(a.AnimalNumber) != "", "animal_number", "required")
	v.Check(validSex(a.Sex), "sex", "unknown value")
	v.Check(validAnimalStatus(a.Status), "status", "unknown value")
	v.Check(validHealth(a.Health), "health", "unknown value")
	return v.Err()
}

// ValidateCage checks a fully populated cage before insert.
func ValidateCage(c Cage) error {
	var v Validator
	v.Check(strings.TrimSpace(c.CageNumber) != "", "cage_number", "required")
	v.Check(c.Capacity >= 0, "capacity", "must not be negative")
	v.Check(validCageStatus(c.Status), "status", "unknown value")
	return v.Err()
}

// ValidateLabel checks a strain or genotype name before insert.
func ValidateLabel(name string) error {
	var v Validator
	v.Check(strings.TrimSpace(name) != "", "name", "required")
	return v.Err()
}

// ValidateUser checks a fully populated user before insert.
func ValidateUser(u User) error {
	var v Validator
	v.Check(validEmail(u.Email), "email", "must be a valid address")
	v.Check(strings.TrimSpace(u.Name) != "", "name", "required")
	v.Check(u.Role.Valid(), "role", "unknown value")
	return v.Err()
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string { return normalizeEmail(email) }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	e := strings.TrimSpace(email)
	at := strings.Index(e, "@")
	return at > 0 && at < len(e)-1 && !strings.ContainsAny(e, " \t")
}

func optionalRef(id string) *string {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return &id
}

func validSex(s Sex) bool {
	switch s {
	case SexMale, SexFemale, SexUnknown:
		return true
	}
	return false
}

func validAnimalStatus(s AnimalStatus) bool {
	switch s {
	case AnimalStatusActive, AnimalStatusBreeding, AnimalStatusRetired, AnimalStatusDeceased, AnimalStatusTransferred:
		return true
	}
	return false
}

func validHealth(h HealthStatus) bool {
	switch h {
	case HealthHealthy, HealthMonitoring, HealthSick, HealthInjured:
		return true
	}
	return false
}

func validCageStatus(s CageStatus) bool {
	switch s {
	case CageStatusActive, CageStatusInactive, CageStatusBreeding, CageStatusQuarantine:
		return true
	}
	return false
}
