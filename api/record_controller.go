package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/safeops/lifecycle-engine/metrics"
	"github.com/safeops/lifecycle-engine/sla"
	"github.com/safeops/lifecycle-engine/types"
	"github.com/safeops/lifecycle-engine/workflow"
)

// RecordController exposes the lifecycle action API over HTTP.
type RecordController struct {
	engine *workflow.Engine
}

// NewRecordController creates a RecordController.
func NewRecordController(engine *workflow.Engine) *RecordController {
	return &RecordController{engine: engine}
}

// actorRequest carries the acting user on every action call.
type actorRequest struct {
	ActorID   types.UserID `json:"actor_id" binding:"required"`
	ActorRole types.RoleID `json:"actor_role" binding:"required"`
}

func (r actorRequest) actor() types.Actor {
	return types.Actor{ID: r.ActorID, Role: r.ActorRole}
}

type createRecordRequest struct {
	Family   types.Family   `json:"family" binding:"required"`
	Owner    types.UserID   `json:"owner" binding:"required"`
	Title    string         `json:"title"`
	Schedule types.Schedule `json:"schedule" binding:"required"`
}

type decideRequest struct {
	actorRequest
	Step     int            `json:"step"`
	Decision types.Decision `json:"decision" binding:"required"`
	Comment  string         `json:"comment"`
}

type stopRequest struct {
	actorRequest
	Reason           string `json:"reason" binding:"required"`
	Detail           string `json:"detail"`
	ImmediateActions string `json:"immediate_actions"`
	ResumeConditions string `json:"resume_conditions"`
}

type extensionRequest struct {
	actorRequest
	Hours  float64 `json:"hours" binding:"required"`
	Reason string  `json:"reason"`
}

type closureRequest struct {
	actorRequest
	Evidence  string                  `json:"evidence"`
	Checklist []types.ChecklistAnswer `json:"checklist"`
}

// recordView is the read-side projection returned to dashboards: current
// state, who must act now, and deadline status.
type recordView struct {
	Record     *types.LifecycleRecord `json:"record"`
	Actionable []types.StepState      `json:"actionable,omitempty"`
	StepSLAs   []workflow.StepSLA     `json:"step_slas,omitempty"`
	Expiry     *sla.Report            `json:"expiry,omitempty"`
}

// RegisterFamily handles POST /api/v1/families.
func (rc *RecordController) RegisterFamily(c *gin.Context) {
	var cfg types.FamilyConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := rc.engine.RegisterFamily(c.Request.Context(), cfg); err != nil {
		EngineError(c, err)
		return
	}
	Created(c, cfg)
}

// CreateRecord handles POST /api/v1/records.
func (rc *RecordController) CreateRecord(c *gin.Context) {
	var req createRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	rec, err := rc.engine.CreateRecord(c.Request.Context(), req.Family, req.Owner, req.Title, req.Schedule)
	if err != nil {
		EngineError(c, err)
		return
	}
	metrics.RecordCreated(string(rec.Family))
	Created(c, rec)
}

// ListRecords handles GET /api/v1/records. The optional family query
// parameter filters by family.
func (rc *RecordController) ListRecords(c *gin.Context) {
	records, err := rc.engine.ListRecords(c.Request.Context(), types.Family(c.Query("family")))
	if err != nil {
		EngineError(c, err)
		return
	}
	Success(c, records)
}

// GetRecord handles GET /api/v1/records/:id.
func (rc *RecordController) GetRecord(c *gin.Context) {
	id, ok := rc.recordID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	rec, err := rc.engine.GetRecord(ctx, id)
	if err != nil {
		EngineError(c, err)
		return
	}

	view := recordView{Record: rec}
	if view.Actionable, err = rc.engine.ActionableSteps(ctx, id); err != nil {
		EngineError(c, err)
		return
	}
	if view.StepSLAs, err = rc.engine.PendingSLAs(ctx, id); err != nil {
		EngineError(c, err)
		return
	}
	if report, ok, err := rc.engine.ExpiryReport(ctx, id); err != nil {
		EngineError(c, err)
		return
	} else if ok {
		view.Expiry = &report
	}
	Success(c, view)
}

// Submit handles POST /api/v1/records/:id/submit.
func (rc *RecordController) Submit(c *gin.Context) {
	rc.action(c, func(id uint64, req actorRequest) (*types.LifecycleRecord, error) {
		return rc.engine.Submit(c.Request.Context(), id, req.actor())
	}, "submit")
}

// Activate handles POST /api/v1/records/:id/activate.
func (rc *RecordController) Activate(c *gin.Context) {
	rc.action(c, func(id uint64, req actorRequest) (*types.LifecycleRecord, error) {
		return rc.engine.Activate(c.Request.Context(), id, req.actor())
	}, "activate")
}

// Decide handles POST /api/v1/records/:id/decide.
func (rc *RecordController) Decide(c *gin.Context) {
	id, ok := rc.recordID(c)
	if !ok {
		return
	}
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	rec, err := rc.engine.Decide(c.Request.Context(), id, req.Step, req.actor(), req.Decision, req.Comment)
	if err != nil {
		EngineError(c, err)
		return
	}
	metrics.Decision(string(rec.Family), "approval", string(req.Decision))
	Success(c, rec)
}

// StopWork handles POST /api/v1/records/:id/stop.
func (rc *RecordController) StopWork(c *gin.Context) {
	id, ok := rc.recordID(c)
	if !ok {
		return
	}
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	rec, err := rc.engine.StopWork(c.Request.Context(), id, req.actor(), workflow.StopRequest{
		Reason:           req.Reason,
		Detail:           req.Detail,
		ImmediateActions: req.ImmediateActions,
		ResumeConditions: req.ResumeConditions,
	})
	if err != nil {
		EngineError(c, err)
		return
	}
	metrics.StopWork(string(rec.Family))
	metrics.Transition(string(rec.Family), "stop_work")
	Success(c, rec)
}

// RequestExtension handles POST /api/v1/records/:id/extensions.
func (rc *RecordController) RequestExtension(c *gin.Context) {
	id, ok := rc.recordID(c)
	if !ok {
		return
	}
	var req extensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	rec, err := rc.engine.RequestExtension(c.Request.Context(), id, req.actor(), req.Hours, req.Reason)
	if err != nil {
		EngineError(c, err)
		return
	}
	metrics.Transition(string(rec.Family), "request_extension")
	Success(c, rec)
}

// ApproveExtension handles POST /api/v1/records/:id/extensions/:index/approve.
func (rc *RecordController) ApproveExtension(c *gin.Context) {
	id, ok := rc.recordID(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid extension index", err.Error())
		return
	}
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	rec, err := rc.engine.ApproveExtension(c.Request.Context(), id, req.actor(), index)
	if err != nil {
		EngineError(c, err)
		return
	}
	metrics.Transition(string(rec.Family), "approve_extension")
	Success(c, rec)
}

// SubmitClosure handles POST /api/v1/records/:id/closure.
func (rc *RecordController) SubmitClosure(c *gin.Context) {
	id, ok := rc.recordID(c)
	if !ok {
		return
	}
	var req closureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	rec, err := rc.engine.SubmitClosure(c.Request.Context(), id, req.actor(), workflow.ClosureRequest{
		Evidence:  req.Evidence,
		Checklist: req.Checklist,
	})
	if err != nil {
		EngineError(c, err)
		return
	}
	metrics.Transition(string(rec.Family), "submit_closure")
	Success(c, rec)
}

// DecideClosure handles POST /api/v1/records/:id/closure/decide.
func (rc *RecordController) DecideClosure(c *gin.Context) {
	id, ok := rc.recordID(c)
	if !ok {
		return
	}
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	rec, err := rc.engine.DecideClosure(c.Request.Context(), id, req.Step, req.actor(), req.Decision, req.Comment)
	if err != nil {
		EngineError(c, err)
		return
	}
	metrics.Decision(string(rec.Family), "closure", string(req.Decision))
	Success(c, rec)
}

// action runs a simple actor-only verb against a record.
func (rc *RecordController) action(c *gin.Context, fn func(uint64, actorRequest) (*types.LifecycleRecord, error), name string) {
	id, ok := rc.recordID(c)
	if !ok {
		return
	}
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	rec, err := fn(id, req)
	if err != nil {
		EngineError(c, err)
		return
	}
	metrics.Transition(string(rec.Family), name)
	Success(c, rec)
}

func (rc *RecordController) recordID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid record ID", err.Error())
		return 0, false
	}
	return id, true
}
