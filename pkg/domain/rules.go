package domain

import (
	"context"
	"fmt"
)

// RuleView provides read-only access to domain entities for rule evaluation.
type RuleView = TransactionView

// Rule is evaluated against the pending state before a transaction commits.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// EntityScopedRule is implemented by rules that only inspect some entity
// types. The engine skips them when no change touches those types.
type EntityScopedRule interface {
	Rule
	Entities() []EntityType
}

// RulesEngine runs registered rules in registration order.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule. Nil rules are ignored.
func (e *RulesEngine) Register(rule Rule) {
	if rule == nil {
		return
	}
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rules in evaluation order.
func (e *RulesEngine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs every applicable rule and merges the results. Violations
// without a rule name are attributed to the rule that produced them.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	if len(changes) == 0 {
		return combined, nil
	}
	touched := make(map[EntityType]bool, len(changes))
	for _, c := range changes {
		touched[c.Entity] = true
	}
	for _, rule := range e.rules {
		if !applies(rule, touched) {
			continue
		}
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		for i := range res.Violations {
			if res.Violations[i].Rule == "" {
				res.Violations[i].Rule = rule.Name()
			}
		}
		combined.Merge(res)
	}
	return combined, nil
}

func applies(rule Rule, touched map[EntityType]bool) bool {
	scoped, ok := rule.(EntityScopedRule)
	if !ok {
		return true
	}
	for _, entity := range scoped.Entities() {
		if touched[entity] {
			return true
		}
	}
	return false
}
