package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors describing policy and state failures. Callers wrap them with
// context and match with errors.Is.
var (
	// ErrNoCompanyAssigned is returned when a non-Admin user has no tenant.
	ErrNoCompanyAssigned = errors.New("no company assigned")
	// ErrForbidden is returned when the actor's role does not permit the action.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyDeleted is returned when soft deleting a trashed record.
	ErrAlreadyDeleted = errors.New("already deleted")
	// ErrNotDeleted is returned when restoring or purging an active record.
	ErrNotDeleted = errors.New("not deleted")
	// ErrAlreadyClaimed is returned when claiming a QR code bound to a cage.
	ErrAlreadyClaimed = errors.New("qr code already claimed")
)

// ErrNotFound is returned for missing records and for records outside the
// caller's tenant scope alike.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports schema or shape violations on input.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator accumulates field errors.
type Validator struct {
	fields []FieldError
}

// Add records a field error.
func (v *Validator) Add(field, message string) {
	v.fields = append(v.fields, FieldError{Field: field, Message: message})
}

// Check records a field error when ok is false.
func (v *Validator) Check(ok bool, field, message string) {
	if !ok {
		v.Add(field, message)
	}
}

// Err returns a ValidationError when any field failed, nil otherwise.
func (v *Validator) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return ValidationError{Fields: append([]FieldError(nil), v.fields...)}
}
