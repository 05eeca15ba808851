package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Mutators run against the transaction's
// private copy of state; returning an error from a mutator discards it.
// Audit logs can only be appended.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	CreateCompany(Company) (Company, error)
	CreateAnimal(Animal) (Animal, error)
	UpdateAnimal(id string, mutator func(*Animal) error) (Animal, error)
	DeleteAnimal(id string) error
	CreateCage(Cage) (Cage, error)
	UpdateCage(id string, mutator func(*Cage) error) (Cage, error)
	DeleteCage(id string) error
	CreateStrain(Strain) (Strain, error)
	UpdateStrain(id string, mutator func(*Strain) error) (Strain, error)
	DeleteStrain(id string) error
	CreateGenotype(Genotype) (Genotype, error)
	UpdateGenotype(id string, mutator func(*Genotype) error) (Genotype, error)
	DeleteGenotype(id string) error
	CreateQRCode(QRCode) (QRCode, error)
	UpdateQRCode(id string, mutator func(*QRCode) error) (QRCode, error)
	DeleteQRCode(id string) error
	CreateUser(User) (User, error)
	UpdateUser(id string, mutator func(*User) error) (User, error)
	DeleteUser(id string) error
	AppendAuditLog(AuditLog) (AuditLog, error)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	ListCompanies() []Company
	FindCompany(id string) (Company, bool)
	ListAnimals() []Animal
	FindAnimal(id string) (Animal, bool)
	ListCages() []Cage
	FindCage(id string) (Cage, bool)
	ListStrains() []Strain
	FindStrain(id string) (Strain, bool)
	ListGenotypes() []Genotype
	FindGenotype(id string) (Genotype, bool)
	ListQRCodes() []QRCode
	FindQRCode(id string) (QRCode, bool)
	ListUsers() []User
	FindUser(id string) (User, bool)
	ListAuditLogs() []AuditLog
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
