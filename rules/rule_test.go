package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/safeops/lifecycle-engine/types"
)

// TestExprEvaluator tests capability expression evaluation.
func TestExprEvaluator(t *testing.T) {
	evaluator := NewExprEvaluator()

	tests := []struct {
		name       string
		expression string
		env        map[string]interface{}
		wantResult bool
		wantErr    bool
	}{
		{
			name:       "role in list matches",
			expression: `role in ["safety_incharge", "plant_head"]`,
			env:        map[string]interface{}{"role": "plant_head"},
			wantResult: true,
		},
		{
			name:       "role in list does not match",
			expression: `role in ["safety_incharge", "plant_head"]`,
			env:        map[string]interface{}{"role": "contractor"},
			wantResult: false,
		},
		{
			name:       "owner shortcut",
			expression: `is_owner || role == "hod"`,
			env:        map[string]interface{}{"is_owner": true, "role": "worker"},
			wantResult: true,
		},
		{
			name:       "non-boolean result",
			expression: `role + "x"`,
			env:        map[string]interface{}{"role": "hod"},
			wantErr:    true,
		},
		{
			name:       "invalid expression",
			expression: `role in [`,
			env:        map[string]interface{}{"role": "hod"},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(tt.expression, tt.env)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantResult, got)
		})
	}
}

func TestCapabilityEnv(t *testing.T) {
	actor := types.Actor{ID: "u-1", Role: "safety_incharge"}
	rec := &types.LifecycleRecord{
		ID:     7,
		Family: types.FamilyPermit,
		Owner:  "u-1",
		State:  types.StateActive,
	}

	env := CapabilityEnv(actor, rec)
	assert.Equal(t, "safety_incharge", env["role"])
	assert.Equal(t, "u-1", env["user"])
	assert.Equal(t, true, env["is_owner"])
	assert.Equal(t, "active", env["state"])
	assert.Equal(t, "permit", env["family"])

	// Nil record still yields a complete env so cached programs compile.
	env = CapabilityEnv(actor, nil)
	assert.Equal(t, false, env["is_owner"])
	assert.Equal(t, "", env["state"])
}

// Concurrent evaluation exercises the compiled-program cache.
func TestExprEvaluatorConcurrent(t *testing.T) {
	evaluator := NewExprEvaluator()
	expression := `role == "hod"`

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := evaluator.Evaluate(expression, map[string]interface{}{"role": "hod"})
			assert.NoError(t, err)
			assert.True(t, got)
		}()
	}
	wg.Wait()
}
