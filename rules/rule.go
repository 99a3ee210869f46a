// Package rules evaluates capability expressions. Family configurations
// express who may perform exceptional transitions (stop-work, privileged
// closure) as boolean expressions over the acting user and record instead
// of role lists hard-coded in the engine.
package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/safeops/lifecycle-engine/types"
)

// Evaluator defines the interface for evaluating capability expressions.
type Evaluator interface {
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// CapabilityEnv builds the expression environment for an actor acting on a
// record. Exposed keys: role, user, owner, is_owner, state, family.
func CapabilityEnv(actor types.Actor, rec *types.LifecycleRecord) map[string]interface{} {
	env := map[string]interface{}{
		"role":     string(actor.Role),
		"user":     string(actor.ID),
		"owner":    "",
		"is_owner": false,
		"state":    "",
		"family":   "",
	}
	if rec != nil {
		env["owner"] = string(rec.Owner)
		env["is_owner"] = rec.Owner == actor.ID
		env["state"] = string(rec.State)
		env["family"] = string(rec.Family)
	}
	return env
}

// ExprEvaluator is an Evaluator backed by expr-lang/expr with a compiled
// program cache.
type ExprEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate evaluates the given expression against the provided environment.
// The expression must evaluate to a boolean; otherwise, an error is
// returned. Returns false and an error if compilation, execution, or type
// assertion fails.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(env))
			if err != nil {
				e.mu.Unlock()
				return false, err
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}
