package workflow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/safeops/lifecycle-engine/sla"
	"github.com/safeops/lifecycle-engine/types"
)

// ErrInvalidStepDefs indicates a workflow definition that cannot be
// instantiated.
var ErrInvalidStepDefs = errors.New("invalid step definitions")

// ValidateStepDefs checks a definition set: at least one step, strictly
// increasing order values, a role on every step, and at least one required
// step. A definition with only optional steps has no gate whose decision
// completes the workflow, so its instances could never leave the pending
// outcome.
func ValidateStepDefs(defs []types.WorkflowStepDef) error {
	if len(defs) == 0 {
		return fmt.Errorf("%w: must have at least one step", ErrInvalidStepDefs)
	}
	prev := defs[0].Order
	hasRequired := false
	for i, def := range defs {
		if def.Role == "" {
			return fmt.Errorf("%w: step order=%d has no role", ErrInvalidStepDefs, def.Order)
		}
		if def.TimeLimitHours < 0 {
			return fmt.Errorf("%w: step order=%d has negative time limit", ErrInvalidStepDefs, def.Order)
		}
		if def.Required {
			hasRequired = true
		}
		if i > 0 {
			if def.Order <= prev {
				return fmt.Errorf("%w: order values must be strictly increasing (%d after %d)", ErrInvalidStepDefs, def.Order, prev)
			}
			prev = def.Order
		}
	}
	if !hasRequired {
		return fmt.Errorf("%w: at least one step must be required", ErrInvalidStepDefs)
	}
	return nil
}

// NewStepStates builds the runtime steps for a definition set, all pending.
// Steps that are actionable from the start get an assignment timestamp so
// their time limits begin counting.
func NewStepStates(defs []types.WorkflowStepDef, now int64) []types.StepState {
	steps := make([]types.StepState, len(defs))
	for i, def := range defs {
		steps[i] = types.StepState{Def: def, Status: types.StepPending}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Def.Order < steps[j].Def.Order })
	markAssigned(steps, now)
	return steps
}

// stageIndexes groups steps into logical stages: a consecutive run of
// parallel steps shares one stage, every non-parallel step is a stage of
// its own. Assumes steps are sorted by order.
func stageIndexes(steps []types.StepState) []int {
	stages := make([]int, len(steps))
	stage := 0
	for i := range steps {
		if i > 0 {
			if !(steps[i].Def.Parallel && steps[i-1].Def.Parallel) {
				stage++
			}
		}
		stages[i] = stage
	}
	return stages
}

// ActionableSteps returns every pending step whose predecessor stages are
// resolved. A step is blocked while any required step in an earlier stage
// awaits a decision; optional steps never block. Parallel steps at the
// same stage are returned together; once the workflow is rejected nothing
// is actionable.
func ActionableSteps(steps []types.StepState) []types.StepState {
	if OutcomeOf(steps) != types.OutcomePending {
		return nil
	}

	stages := stageIndexes(steps)
	var out []types.StepState
	for i, step := range steps {
		if step.Status != types.StepPending {
			continue
		}
		blocked := false
		for j := 0; j < len(steps); j++ {
			if stages[j] >= stages[i] {
				continue
			}
			if steps[j].Def.Required && !steps[j].Status.Resolved() {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, step)
		}
	}
	return out
}

// RecordDecision applies an approve/reject verdict to the step identified
// by its order value, mutating steps in place. The verdict is validated
// before any field is written, so a failed call leaves steps untouched.
// Rejecting a required step short-circuits the workflow: every remaining
// pending step is skipped. Returns the aggregate outcome after the
// decision.
func RecordDecision(steps []types.StepState, order int, actor types.Actor, decision types.Decision, comment string, now int64) (types.Outcome, error) {
	idx := -1
	for i := range steps {
		if steps[i].Def.Order == order {
			idx = i
			break
		}
	}
	if idx < 0 {
		return OutcomeOf(steps), fmt.Errorf("%w: no step with order %d", ErrNotActionable, order)
	}

	actionable := false
	for _, step := range ActionableSteps(steps) {
		if step.Def.Order == order {
			actionable = true
			break
		}
	}
	if !actionable {
		return OutcomeOf(steps), fmt.Errorf("%w: step order=%d status=%s", ErrNotActionable, order, steps[idx].Status)
	}

	if steps[idx].Def.Role != actor.Role {
		return OutcomeOf(steps), fmt.Errorf("%w: step order=%d requires role %s, actor has %s",
			ErrUnauthorized, order, steps[idx].Def.Role, actor.Role)
	}

	var status types.StepStatus
	switch decision {
	case types.DecisionApprove:
		status = types.StepApproved
	case types.DecisionReject:
		status = types.StepRejected
	default:
		return OutcomeOf(steps), fmt.Errorf("%w: unknown decision %q", ErrNotActionable, decision)
	}

	steps[idx].Status = status
	steps[idx].ActorID = actor.ID
	steps[idx].Comment = comment
	steps[idx].DecidedAt = now

	if status == types.StepRejected && steps[idx].Def.Required {
		for i := range steps {
			if steps[i].Status == types.StepPending {
				steps[i].Status = types.StepSkipped
			}
		}
	}

	markAssigned(steps, now)
	return OutcomeOf(steps), nil
}

// OutcomeOf returns the aggregate result of a workflow instance: rejected
// if any required step is rejected, approved once every required step is
// approved or skipped. Optional steps never block completion.
func OutcomeOf(steps []types.StepState) types.Outcome {
	for _, step := range steps {
		if step.Def.Required && step.Status == types.StepRejected {
			return types.OutcomeRejected
		}
	}
	for _, step := range steps {
		if step.Def.Required && !(step.Status == types.StepApproved || step.Status == types.StepSkipped) {
			return types.OutcomePending
		}
	}
	return types.OutcomeApproved
}

// markAssigned stamps an assignment time on steps that just became
// actionable, anchoring their time limits.
func markAssigned(steps []types.StepState, now int64) {
	actionable := ActionableSteps(steps)
	for _, a := range actionable {
		for i := range steps {
			if steps[i].Def.Order == a.Def.Order && steps[i].AssignedAt == 0 {
				steps[i].AssignedAt = now
			}
		}
	}
}

// StepSLA pairs a pending step with its deadline report.
type StepSLA struct {
	Order  int          `json:"order"`
	Role   types.RoleID `json:"role"`
	Label  string       `json:"label"`
	Report sla.Report   `json:"report"`
}

// StepSLAs reports the deadline status of every actionable step that
// carries a time limit.
func StepSLAs(steps []types.StepState, now int64) []StepSLA {
	var out []StepSLA
	for _, step := range ActionableSteps(steps) {
		if step.Def.TimeLimitHours <= 0 || step.AssignedAt == 0 {
			continue
		}
		due := sla.ComputeDeadline(step.AssignedAt, step.Def.TimeLimitHours)
		out = append(out, StepSLA{
			Order:  step.Def.Order,
			Role:   step.Def.Role,
			Label:  step.Def.Label,
			Report: sla.EvaluateDefault(due, now),
		})
	}
	return out
}
