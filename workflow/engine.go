// Package workflow implements the configurable approval workflow evaluator
// and the resource lifecycle state machine it drives. One Engine serves
// every registered resource family (work permits, hazard-study closures,
// incident investigations); families differ only in configuration.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/songzhibin97/gkit/generator"

	"github.com/safeops/lifecycle-engine/events"
	"github.com/safeops/lifecycle-engine/rules"
	"github.com/safeops/lifecycle-engine/sla"
	"github.com/safeops/lifecycle-engine/storage"
	"github.com/safeops/lifecycle-engine/types"
)

// Standard error definitions. Business-rule failures are returned as these
// sentinels (wrapped with detail) and are safe to show to an end user;
// only storage faults propagate as plain wrapped errors.
var (
	ErrFamilyNotRegistered = errors.New("family not registered")
	ErrRecordNotFound      = errors.New("record not found")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotActionable       = errors.New("step not actionable")
	ErrAlreadyTerminal     = errors.New("record is in a terminal state")
	ErrInvariantViolation  = errors.New("invariant violation")
)

// Event types published on the bus.
const (
	EventStateChanged       = "state_changed"
	EventStepDecided        = "step_decided"
	EventStopWork           = "stop_work"
	EventExtensionRequested = "extension_requested"
	EventExtensionApproved  = "extension_approved"
	EventClosureSubmitted   = "closure_submitted"
)

// StopRequest is the payload of a stop-work interrupt.
type StopRequest struct {
	Reason           string `json:"reason"`
	Detail           string `json:"detail,omitempty"`
	ImmediateActions string `json:"immediate_actions,omitempty"`
	ResumeConditions string `json:"resume_conditions,omitempty"`
}

// ClosureRequest is the payload of a closure submission.
type ClosureRequest struct {
	Evidence  string                  `json:"evidence,omitempty"`
	Checklist []types.ChecklistAnswer `json:"checklist,omitempty"`
}

// Engine is the lifecycle state machine over stored records. Mutating
// actions are serialized per record; reads are lock-free against storage.
type Engine struct {
	families  map[types.Family]types.FamilyConfig
	records   map[uint64]types.LifecycleRecord
	locks     map[uint64]*sync.Mutex
	mu        sync.RWMutex
	storage   storage.Storage
	eventBus  *events.EventBus
	evaluator rules.Evaluator
	generate  generator.Generator
	logger    *logrus.Logger
	now       func() int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for invariant violations and sweeps.
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the engine clock (unix milliseconds). Tests use this
// to drive expiry deterministically.
func WithClock(now func() int64) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a new Engine with the given generator, storage and
// capability evaluator.
func NewEngine(generate generator.Generator, store storage.Storage, evaluator rules.Evaluator, opts ...Option) (*Engine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if evaluator == nil {
		evaluator = rules.NewExprEvaluator()
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}

	e := &Engine{
		families:  make(map[types.Family]types.FamilyConfig),
		records:   make(map[uint64]types.LifecycleRecord),
		locks:     make(map[uint64]*sync.Mutex),
		storage:   store,
		eventBus:  events.NewEventBus(),
		evaluator: evaluator,
		generate:  generate,
		logger:    logrus.New(),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SubscribeEvent subscribes an event handler to a specific event type.
func (e *Engine) SubscribeEvent(eventType string, handler events.EventHandler) {
	e.eventBus.Subscribe(eventType, handler)
}

// RegisterFamily validates and persists a family configuration.
func (e *Engine) RegisterFamily(ctx context.Context, cfg types.FamilyConfig) error {
	if cfg.Family == "" {
		return errors.New("family ID is required")
	}
	if err := ValidateStepDefs(cfg.ApprovalSteps); err != nil {
		return fmt.Errorf("approval steps: %w", err)
	}
	if len(cfg.ClosureSteps) > 0 {
		if err := ValidateStepDefs(cfg.ClosureSteps); err != nil {
			return fmt.Errorf("closure steps: %w", err)
		}
	}

	if err := e.storage.SaveFamily(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save family: %w", err)
	}

	e.mu.Lock()
	e.families[cfg.Family] = cfg
	e.mu.Unlock()
	return nil
}

// getFamily retrieves a family configuration, checking cache first then
// storage.
func (e *Engine) getFamily(ctx context.Context, family types.Family) (types.FamilyConfig, error) {
	e.mu.RLock()
	cfg, ok := e.families[family]
	e.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg, err := e.storage.GetFamily(ctx, family)
	if err != nil {
		return types.FamilyConfig{}, fmt.Errorf("%w: %s", ErrFamilyNotRegistered, family)
	}

	e.mu.Lock()
	e.families[cfg.Family] = cfg
	e.mu.Unlock()
	return cfg, nil
}

// CreateRecord creates a record in Draft with a fresh approval workflow
// instance attached.
func (e *Engine) CreateRecord(ctx context.Context, family types.Family, owner types.UserID, title string, schedule types.Schedule) (*types.LifecycleRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	cfg, err := e.getFamily(ctx, family)
	if err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, errors.New("owner is required")
	}
	if schedule.End <= schedule.Start {
		return nil, fmt.Errorf("schedule end must be after start")
	}

	id, err := e.generate.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ID: %w", err)
	}

	now := e.now()
	rec := types.LifecycleRecord{
		ID:            id,
		Family:        family,
		Owner:         owner,
		Title:         title,
		State:         types.StateDraft,
		ApprovalSteps: NewStepStates(cfg.ApprovalSteps, now),
		Schedule:      schedule,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.saveRecord(ctx, rec); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, EventStateChanged, &rec, map[string]interface{}{"state": rec.State})
	return &rec, nil
}

// Submit moves a Draft record to Submitted, resetting the approval
// workflow instance. Only the owner may submit.
func (e *Engine) Submit(ctx context.Context, recordID uint64, actor types.Actor) (*types.LifecycleRecord, error) {
	return e.mutate(ctx, recordID, "submit", func(rec *types.LifecycleRecord, cfg types.FamilyConfig, now int64) error {
		if rec.State != types.StateDraft {
			return fmt.Errorf("%w: cannot submit from %s", ErrInvalidTransition, rec.State)
		}
		if rec.Owner != actor.ID {
			return fmt.Errorf("%w: only the owner may submit", ErrUnauthorized)
		}
		rec.ApprovalSteps = NewStepStates(cfg.ApprovalSteps, now)
		rec.State = types.StateSubmitted
		return nil
	})
}

// Decide records an approval-step verdict on a Submitted record and
// advances the lifecycle when the workflow completes either way.
func (e *Engine) Decide(ctx context.Context, recordID uint64, stepOrder int, actor types.Actor, decision types.Decision, comment string) (*types.LifecycleRecord, error) {
	rec, err := e.mutate(ctx, recordID, "decide", func(rec *types.LifecycleRecord, cfg types.FamilyConfig, now int64) error {
		if rec.State != types.StateSubmitted {
			return fmt.Errorf("%w: cannot decide from %s", ErrInvalidTransition, rec.State)
		}

		outcome, err := RecordDecision(rec.ApprovalSteps, stepOrder, actor, decision, comment, now)
		if err != nil {
			return err
		}

		switch outcome {
		case types.OutcomeApproved:
			rec.State = types.StateApproved
		case types.OutcomeRejected:
			rec.State = types.StateRejected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publishEvent(ctx, EventStepDecided, rec, map[string]interface{}{
		"phase":    "approval",
		"step":     stepOrder,
		"decision": decision,
		"actor":    actor.ID,
	})
	return rec, nil
}

// Activate moves an Approved record into its Active window. Fails once the
// scheduled end has already passed.
func (e *Engine) Activate(ctx context.Context, recordID uint64, actor types.Actor) (*types.LifecycleRecord, error) {
	return e.mutate(ctx, recordID, "activate", func(rec *types.LifecycleRecord, cfg types.FamilyConfig, now int64) error {
		if rec.State != types.StateApproved {
			return fmt.Errorf("%w: cannot activate from %s", ErrInvalidTransition, rec.State)
		}
		if rec.Owner != actor.ID {
			return fmt.Errorf("%w: only the owner may activate", ErrUnauthorized)
		}
		if now > rec.Schedule.End {
			return fmt.Errorf("%w: validity window ended before activation", ErrInvalidTransition)
		}
		rec.State = types.StateActive
		rec.ExpiresAt = computeExpiry(rec)
		return nil
	})
}

// StopWork is the emergency interrupt: it takes an Active or Expired
// record straight to the terminal Stopped state, bypassing the workflow
// order. The capability is granted by the family's stop-work rule.
func (e *Engine) StopWork(ctx context.Context, recordID uint64, actor types.Actor, req StopRequest) (*types.LifecycleRecord, error) {
	rec, err := e.mutate(ctx, recordID, "stop_work", func(rec *types.LifecycleRecord, cfg types.FamilyConfig, now int64) error {
		if rec.State != types.StateActive && rec.State != types.StateExpired {
			return fmt.Errorf("%w: cannot stop work from %s", ErrInvalidTransition, rec.State)
		}
		if req.Reason == "" {
			return errors.New("stop reason is required")
		}
		allowed, err := e.allow(cfg.StopWorkRule, actor, rec)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: role %s lacks the stop-work capability", ErrUnauthorized, actor.Role)
		}

		rec.State = types.StateStopped
		rec.StopRecord = &types.StopEntry{
			Reason:           req.Reason,
			Detail:           req.Detail,
			ImmediateActions: req.ImmediateActions,
			ResumeConditions: req.ResumeConditions,
			StoppedBy:        actor.ID,
			StoppedAt:        now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publishEvent(ctx, EventStopWork, rec, map[string]interface{}{
		"reason": req.Reason,
		"actor":  actor.ID,
	})
	return rec, nil
}

// RequestExtension appends an extension entry on an Active or Expired
// record. Under the auto-approve policy (no approver role configured) the
// entry takes effect immediately; otherwise it waits for ApproveExtension.
func (e *Engine) RequestExtension(ctx context.Context, recordID uint64, actor types.Actor, hours float64, reason string) (*types.LifecycleRecord, error) {
	rec, err := e.mutate(ctx, recordID, "request_extension", func(rec *types.LifecycleRecord, cfg types.FamilyConfig, now int64) error {
		if rec.State != types.StateActive && rec.State != types.StateExpired {
			return fmt.Errorf("%w: cannot extend from %s", ErrInvalidTransition, rec.State)
		}
		if rec.Owner != actor.ID {
			return fmt.Errorf("%w: only the owner may request an extension", ErrUnauthorized)
		}
		if hours <= 0 {
			return errors.New("extension hours must be positive")
		}

		entry := types.ExtensionEntry{
			Hours:       hours,
			Reason:      reason,
			RequestedBy: actor.ID,
			RequestedAt: now,
		}
		if cfg.ExtensionApproverRole == "" {
			entry.ApprovedBy = actor.ID
			entry.ApprovedAt = now
		}
		rec.Extensions = append(rec.Extensions, entry)
		rec.ExpiresAt = computeExpiry(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publishEvent(ctx, EventExtensionRequested, rec, map[string]interface{}{
		"hours":         hours,
		"actor":         actor.ID,
		"auto_approved": rec.Extensions[len(rec.Extensions)-1].Approved(),
	})
	return rec, nil
}

// ApproveExtension approves the pending extension at the given index.
// Only the family's configured approver role may approve.
func (e *Engine) ApproveExtension(ctx context.Context, recordID uint64, actor types.Actor, index int) (*types.LifecycleRecord, error) {
	rec, err := e.mutate(ctx, recordID, "approve_extension", func(rec *types.LifecycleRecord, cfg types.FamilyConfig, now int64) error {
		if cfg.ExtensionApproverRole == "" {
			return fmt.Errorf("%w: family %s auto-approves extensions", ErrInvalidTransition, rec.Family)
		}
		if actor.Role != cfg.ExtensionApproverRole {
			return fmt.Errorf("%w: extension approval requires role %s", ErrUnauthorized, cfg.ExtensionApproverRole)
		}
		if index < 0 || index >= len(rec.Extensions) {
			return fmt.Errorf("%w: no extension at index %d", ErrNotActionable, index)
		}
		if rec.Extensions[index].Approved() {
			return fmt.Errorf("%w: extension already approved", ErrNotActionable)
		}

		rec.Extensions[index].ApprovedBy = actor.ID
		rec.Extensions[index].ApprovedAt = now
		rec.ExpiresAt = computeExpiry(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publishEvent(ctx, EventExtensionApproved, rec, map[string]interface{}{
		"hours": rec.Extensions[index].Hours,
		"actor": actor.ID,
	})
	return rec, nil
}

// SubmitClosure moves an Active or Expired record to PendingClosure with
// the given evidence, instantiating the closure workflow. The owner may
// always submit; other actors need the family's close rule. Families with
// no closure steps close immediately.
func (e *Engine) SubmitClosure(ctx context.Context, recordID uint64, actor types.Actor, req ClosureRequest) (*types.LifecycleRecord, error) {
	rec, err := e.mutate(ctx, recordID, "submit_closure", func(rec *types.LifecycleRecord, cfg types.FamilyConfig, now int64) error {
		if rec.State != types.StateActive && rec.State != types.StateExpired {
			return fmt.Errorf("%w: cannot submit closure from %s", ErrInvalidTransition, rec.State)
		}
		if rec.Owner != actor.ID {
			allowed, err := e.allow(cfg.CloseRule, actor, rec)
			if err != nil {
				return err
			}
			if !allowed {
				return fmt.Errorf("%w: actor may not submit closure", ErrUnauthorized)
			}
		}
		if err := types.ValidateChecklist(cfg.ClosureChecklist, req.Checklist); err != nil {
			return err
		}

		rec.ClosureRecord = &types.ClosureEntry{
			Evidence:    req.Evidence,
			Checklist:   req.Checklist,
			SubmittedBy: actor.ID,
			SubmittedAt: now,
		}
		if len(cfg.ClosureSteps) == 0 {
			rec.State = types.StateClosed
		} else {
			rec.ClosureSteps = NewStepStates(cfg.ClosureSteps, now)
			rec.State = types.StatePendingClosure
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publishEvent(ctx, EventClosureSubmitted, rec, map[string]interface{}{"actor": actor.ID})
	return rec, nil
}

// DecideClosure records a closure-step verdict. Approval of the whole
// closure workflow closes the record; rejection returns it to its
// operational state (Active or Expired, depending on expiry) and discards
// the submitted closure.
func (e *Engine) DecideClosure(ctx context.Context, recordID uint64, stepOrder int, actor types.Actor, decision types.Decision, comment string) (*types.LifecycleRecord, error) {
	rec, err := e.mutate(ctx, recordID, "decide_closure", func(rec *types.LifecycleRecord, cfg types.FamilyConfig, now int64) error {
		if rec.State != types.StatePendingClosure {
			return fmt.Errorf("%w: cannot decide closure from %s", ErrInvalidTransition, rec.State)
		}

		outcome, err := RecordDecision(rec.ClosureSteps, stepOrder, actor, decision, comment, now)
		if err != nil {
			return err
		}

		switch outcome {
		case types.OutcomeApproved:
			rec.State = types.StateClosed
		case types.OutcomeRejected:
			if now > rec.ExpiresAt {
				rec.State = types.StateExpired
			} else {
				rec.State = types.StateActive
			}
			rec.ClosureRecord = nil
			rec.ClosureSteps = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publishEvent(ctx, EventStepDecided, rec, map[string]interface{}{
		"phase":    "closure",
		"step":     stepOrder,
		"decision": decision,
		"actor":    actor.ID,
	})
	return rec, nil
}

// GetRecord returns a record with its derived expiry state applied, so any
// read after the deadline reports Expired without waiting for a sweep.
func (e *Engine) GetRecord(ctx context.Context, recordID uint64) (*types.LifecycleRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	rec, err := e.loadRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	rec = cloneRecord(rec)
	normalizeExpiry(&rec, e.now())
	return &rec, nil
}

// ListRecords returns every record of a family ("" matches all families),
// each with its derived expiry state applied. Returned records carry their
// full decision history: step states, extensions, stop and closure entries.
func (e *Engine) ListRecords(ctx context.Context, family types.Family) ([]types.LifecycleRecord, error) {
	records, err := e.storage.ListRecords(ctx, family)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	now := e.now()
	for i := range records {
		normalizeExpiry(&records[i], now)
	}
	return records, nil
}

// ActionableSteps returns the steps awaiting a decision in the record's
// current phase: approval steps while Submitted, closure steps while
// PendingClosure, nothing otherwise.
func (e *Engine) ActionableSteps(ctx context.Context, recordID uint64) ([]types.StepState, error) {
	rec, err := e.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	switch rec.State {
	case types.StateSubmitted:
		return ActionableSteps(rec.ApprovalSteps), nil
	case types.StatePendingClosure:
		return ActionableSteps(rec.ClosureSteps), nil
	default:
		return nil, nil
	}
}

// PendingSLAs reports deadline status for the actionable time-limited
// steps of the record's current phase.
func (e *Engine) PendingSLAs(ctx context.Context, recordID uint64) ([]StepSLA, error) {
	rec, err := e.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	switch rec.State {
	case types.StateSubmitted:
		return StepSLAs(rec.ApprovalSteps, now), nil
	case types.StatePendingClosure:
		return StepSLAs(rec.ClosureSteps, now), nil
	default:
		return nil, nil
	}
}

// ExpiryReport classifies an activated record against its expiry deadline.
// Returns false when the record has no expiry yet.
func (e *Engine) ExpiryReport(ctx context.Context, recordID uint64) (sla.Report, bool, error) {
	rec, err := e.GetRecord(ctx, recordID)
	if err != nil {
		return sla.Report{}, false, err
	}
	if rec.ExpiresAt == 0 {
		return sla.Report{}, false, nil
	}
	return sla.EvaluateDefault(rec.ExpiresAt, e.now()), true, nil
}

// Stop gracefully stops the engine's event processing.
func (e *Engine) Stop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		e.eventBus.Stop()
		return nil
	}
}

// mutate runs a guarded read-modify-write against one record, serialized
// per record ID. The callback operates on a deep copy, so a failed guard,
// invariant check or save leaves the cached record untouched. Terminal
// records reject every action up front; derived expiry is normalized
// before guards run so they see the current state.
func (e *Engine) mutate(ctx context.Context, recordID uint64, action string, fn func(rec *types.LifecycleRecord, cfg types.FamilyConfig, now int64) error) (*types.LifecycleRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	unlock := e.lockRecord(recordID)
	defer unlock()

	rec, err := e.loadRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	rec = cloneRecord(rec)
	cfg, err := e.getFamily(ctx, rec.Family)
	if err != nil {
		return nil, err
	}

	now := e.now()
	normalizeExpiry(&rec, now)

	if rec.State.Terminal() {
		return nil, fmt.Errorf("%w: state=%s action=%s", ErrAlreadyTerminal, rec.State, action)
	}

	prevState := rec.State
	if err := fn(&rec, cfg, now); err != nil {
		return nil, err
	}

	if err := checkInvariants(&rec); err != nil {
		e.logger.WithFields(logrus.Fields{
			"record": rec.ID,
			"family": rec.Family,
			"action": action,
		}).WithError(err).Error("lifecycle invariant violated")
		return nil, fmt.Errorf("%w: internal error", ErrInvariantViolation)
	}

	rec.UpdatedAt = now
	if err := e.saveRecord(ctx, rec); err != nil {
		return nil, err
	}

	if rec.State != prevState {
		e.publishEvent(ctx, EventStateChanged, &rec, map[string]interface{}{
			"from":   prevState,
			"state":  rec.State,
			"action": action,
		})
	}
	return &rec, nil
}

// allow evaluates a capability rule for an actor on a record. An empty
// rule grants nothing.
func (e *Engine) allow(rule string, actor types.Actor, rec *types.LifecycleRecord) (bool, error) {
	if rule == "" {
		return false, nil
	}
	allowed, err := e.evaluator.Evaluate(rule, rules.CapabilityEnv(actor, rec))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate capability rule '%s': %w", rule, err)
	}
	return allowed, nil
}

// lockRecord returns the unlock function for the record's mutex, creating
// it on first use.
func (e *Engine) lockRecord(recordID uint64) func() {
	e.mu.Lock()
	lock, ok := e.locks[recordID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[recordID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// loadRecord retrieves a record by ID, checking cache first then storage.
func (e *Engine) loadRecord(ctx context.Context, recordID uint64) (types.LifecycleRecord, error) {
	e.mu.RLock()
	rec, ok := e.records[recordID]
	e.mu.RUnlock()
	if ok {
		return rec, nil
	}

	rec, err := e.storage.GetRecord(ctx, recordID)
	if err != nil {
		return types.LifecycleRecord{}, fmt.Errorf("%w: id=%d", ErrRecordNotFound, recordID)
	}

	e.mu.Lock()
	e.records[rec.ID] = rec
	e.mu.Unlock()
	return rec, nil
}

// saveRecord saves a record to both cache and storage.
func (e *Engine) saveRecord(ctx context.Context, rec types.LifecycleRecord) error {
	if err := e.storage.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	e.mu.Lock()
	e.records[rec.ID] = rec
	e.mu.Unlock()
	return nil
}

// publishEvent publishes an event asynchronously to the event bus.
func (e *Engine) publishEvent(ctx context.Context, eventType string, rec *types.LifecycleRecord, data map[string]interface{}) {
	err := e.eventBus.Publish(ctx, events.Event{
		Type:     eventType,
		RecordID: rec.ID,
		Family:   rec.Family,
		Data:     data,
	})
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		e.logger.WithError(err).WithField("event", eventType).Warn("failed to publish event")
	}
}

// cloneRecord deep-copies a record's slices and pointers. Mutations run
// against the clone, so a failed action never leaves partial writes in the
// cached copy.
func cloneRecord(rec types.LifecycleRecord) types.LifecycleRecord {
	if rec.ApprovalSteps != nil {
		rec.ApprovalSteps = append([]types.StepState(nil), rec.ApprovalSteps...)
	}
	if rec.ClosureSteps != nil {
		rec.ClosureSteps = append([]types.StepState(nil), rec.ClosureSteps...)
	}
	if rec.Extensions != nil {
		rec.Extensions = append([]types.ExtensionEntry(nil), rec.Extensions...)
	}
	if rec.StopRecord != nil {
		stop := *rec.StopRecord
		rec.StopRecord = &stop
	}
	if rec.ClosureRecord != nil {
		closure := *rec.ClosureRecord
		closure.Checklist = append([]types.ChecklistAnswer(nil), closure.Checklist...)
		rec.ClosureRecord = &closure
	}
	return rec
}

// computeExpiry derives the expiry timestamp: scheduled end plus the sum
// of approved extension hours.
func computeExpiry(rec *types.LifecycleRecord) int64 {
	expiry := rec.Schedule.End
	for _, ext := range rec.Extensions {
		if ext.Approved() {
			expiry = sla.ComputeDeadline(expiry, ext.Hours)
		}
	}
	return expiry
}

// normalizeExpiry materializes the derived Active<->Expired boundary.
// Expired is a function of the clock, so an approved extension that moves
// the deadline past now flips an Expired record back to Active.
func normalizeExpiry(rec *types.LifecycleRecord, now int64) {
	if rec.ExpiresAt == 0 {
		return
	}
	switch rec.State {
	case types.StateActive:
		if now > rec.ExpiresAt {
			rec.State = types.StateExpired
		}
	case types.StateExpired:
		if now <= rec.ExpiresAt {
			rec.State = types.StateActive
		}
	}
}

// checkInvariants validates the structural invariants that must hold for
// every record on every write. A failure indicates a bug, not a business
// condition.
func checkInvariants(rec *types.LifecycleRecord) error {
	switch rec.State {
	case types.StateDraft, types.StateSubmitted, types.StateApproved,
		types.StateActive, types.StateExpired, types.StateStopped,
		types.StatePendingClosure, types.StateClosed, types.StateRejected:
	default:
		return fmt.Errorf("unknown state %q", rec.State)
	}

	if (rec.StopRecord != nil) != (rec.State == types.StateStopped) {
		return fmt.Errorf("stop record presence inconsistent with state %s", rec.State)
	}
	if rec.ClosureRecord != nil && rec.State != types.StatePendingClosure && rec.State != types.StateClosed {
		return fmt.Errorf("closure record present in state %s", rec.State)
	}
	if rec.ExpiresAt != 0 && rec.ExpiresAt < rec.Schedule.End {
		return fmt.Errorf("expiry %d before scheduled end %d", rec.ExpiresAt, rec.Schedule.End)
	}
	if computed := computeExpiry(rec); rec.ExpiresAt != 0 && rec.ExpiresAt != computed {
		return fmt.Errorf("expiry %d does not match computed %d", rec.ExpiresAt, computed)
	}
	return nil
}
