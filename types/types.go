package types

// RoleID identifies a role a user may act under (e.g. "hod", "safety_incharge").
type RoleID string

// UserID identifies an acting user.
type UserID string

// Family identifies a resource family sharing the lifecycle engine.
type Family string

// Built-in resource families.
const (
	FamilyPermit        Family = "permit"
	FamilyHazardClosure Family = "hazard_study_closure"
	FamilyIncident      Family = "incident_investigation"
)

// StepStatus is the runtime status of one workflow step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
	StepSkipped  StepStatus = "skipped"
)

// Resolved reports whether the step no longer awaits a decision.
func (s StepStatus) Resolved() bool {
	return s == StepApproved || s == StepRejected || s == StepSkipped
}

// Outcome is the aggregate result of a workflow instance.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Decision is a reviewer's verdict on one step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// State is a lifecycle state of a record. Each family uses the same
// vocabulary; families that have no active phase simply never enter it.
type State string

const (
	StateDraft          State = "draft"
	StateSubmitted      State = "submitted"
	StateApproved       State = "approved"
	StateActive         State = "active"
	StateExpired        State = "expired"
	StateStopped        State = "stopped"
	StatePendingClosure State = "pending_closure"
	StateClosed         State = "closed"
	StateRejected       State = "rejected"
)

// Terminal reports whether no further transitions are allowed from s.
// Stopped is terminal: the product exposes no resume transition.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateRejected || s == StateStopped
}

// WorkflowStepDef is one configured gate in a workflow definition.
// Order values must be strictly increasing within a definition; they need
// not be contiguous and double as the step identity at runtime.
type WorkflowStepDef struct {
	Order          int     `json:"order"`
	Role           RoleID  `json:"role"`
	Label          string  `json:"label"`
	Required       bool    `json:"required"`
	Parallel       bool    `json:"parallel"`
	TimeLimitHours float64 `json:"time_limit_hours,omitempty"`
}

// WorkflowDefinition is an ordered set of step definitions produced by the
// configuration surface and attached to records at creation time.
type WorkflowDefinition struct {
	ID    uint64            `json:"id"`
	Name  string            `json:"name"`
	Steps []WorkflowStepDef `json:"steps"`
}

// StepState is the runtime counterpart of a WorkflowStepDef. One exists per
// workflow instance per definition step; statuses only move forward.
type StepState struct {
	Def        WorkflowStepDef `json:"def"`
	Status     StepStatus      `json:"status"`
	ActorID    UserID          `json:"actor_id,omitempty"`
	Comment    string          `json:"comment,omitempty"`
	DecidedAt  int64           `json:"decided_at,omitempty"`
	AssignedAt int64           `json:"assigned_at,omitempty"`
}

// Schedule is the planned validity window of a record.
type Schedule struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// ExtensionEntry records one time-extension request. Approval fields are
// filled in later when the family policy gates extensions; under the
// auto-approve policy they are set at request time.
type ExtensionEntry struct {
	Hours       float64 `json:"hours"`
	Reason      string  `json:"reason"`
	RequestedBy UserID  `json:"requested_by"`
	RequestedAt int64   `json:"requested_at"`
	ApprovedBy  UserID  `json:"approved_by,omitempty"`
	ApprovedAt  int64   `json:"approved_at,omitempty"`
}

// Approved reports whether the extension counts toward expiry.
func (e ExtensionEntry) Approved() bool {
	return e.ApprovedAt != 0
}

// StopEntry records the terminal stop-work interrupt. At most one per
// record; immutable once written. ResumeConditions is informational only.
type StopEntry struct {
	Reason           string `json:"reason"`
	Detail           string `json:"detail,omitempty"`
	ImmediateActions string `json:"immediate_actions,omitempty"`
	ResumeConditions string `json:"resume_conditions,omitempty"`
	StoppedBy        UserID `json:"stopped_by"`
	StoppedAt        int64  `json:"stopped_at"`
}

// ClosureEntry holds the closure evidence submitted with a closure request.
type ClosureEntry struct {
	Evidence    string            `json:"evidence,omitempty"`
	Checklist   []ChecklistAnswer `json:"checklist,omitempty"`
	SubmittedBy UserID            `json:"submitted_by"`
	SubmittedAt int64             `json:"submitted_at"`
}

// LifecycleRecord is one resource instance (a permit, a hazard-study
// closure, an incident investigation) driven by the lifecycle engine.
// ApprovalSteps and ClosureSteps are independent workflow instances.
type LifecycleRecord struct {
	ID            uint64           `json:"id"`
	Family        Family           `json:"family"`
	Owner         UserID           `json:"owner"`
	Title         string           `json:"title,omitempty"`
	State         State            `json:"state"`
	ApprovalSteps []StepState      `json:"approval_steps"`
	ClosureSteps  []StepState      `json:"closure_steps,omitempty"`
	Schedule      Schedule         `json:"schedule"`
	ExpiresAt     int64            `json:"expires_at,omitempty"`
	Extensions    []ExtensionEntry `json:"extensions,omitempty"`
	StopRecord    *StopEntry       `json:"stop_record,omitempty"`
	ClosureRecord *ClosureEntry    `json:"closure_record,omitempty"`
	CreatedAt     int64            `json:"created_at"`
	UpdatedAt     int64            `json:"updated_at"`
}

// Actor is the authenticated caller of an engine action, as resolved by
// the surrounding system.
type Actor struct {
	ID   UserID `json:"id"`
	Role RoleID `json:"role"`
}

// FamilyConfig parameterizes the lifecycle state machine for one resource
// family. Capability rules are boolean expressions evaluated against the
// acting user and record (see the rules package); role authorization is
// configuration, not code.
type FamilyConfig struct {
	Family           Family            `json:"family"`
	Name             string            `json:"name"`
	ApprovalSteps    []WorkflowStepDef `json:"approval_steps"`
	ClosureSteps     []WorkflowStepDef `json:"closure_steps,omitempty"`
	ClosureChecklist []ChecklistItem   `json:"closure_checklist,omitempty"`

	// StopWorkRule grants the stop-work capability, e.g.
	// `role in ["safety_incharge", "plant_head"]`. Empty disables stop-work.
	StopWorkRule string `json:"stop_work_rule,omitempty"`

	// CloseRule grants closure submission to actors besides the owner.
	CloseRule string `json:"close_rule,omitempty"`

	// ExtensionApproverRole gates extensions. Empty means extensions are
	// auto-approved at request time.
	ExtensionApproverRole RoleID `json:"extension_approver_role,omitempty"`
}
