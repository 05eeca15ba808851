package core

import "vivarium/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Company            = domain.Company
	Animal             = domain.Animal
	Cage               = domain.Cage
	Strain             = domain.Strain
	Genotype           = domain.Genotype
	QRCode             = domain.QRCode
	User               = domain.User
	AuditLog           = domain.AuditLog
	Role               = domain.Role
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityCompany  = domain.EntityCompany
	EntityAnimal   = domain.EntityAnimal
	EntityCage     = domain.EntityCage
	EntityStrain   = domain.EntityStrain
	EntityGenotype = domain.EntityGenotype
	EntityQRCode   = domain.EntityQRCode
	EntityUser     = domain.EntityUser
	EntityAuditLog = domain.EntityAuditLog
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
