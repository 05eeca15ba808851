package core

import "vivarium/pkg/domain"

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in invariant set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewTrashIntegrityRule())
	engine.Register(NewQRClaimIntegrityRule())
	engine.Register(NewNaturalKeyUniquenessRule())
	engine.Register(NewCageCapacityRule())
	return engine
}
