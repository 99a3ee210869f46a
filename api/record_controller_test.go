package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeops/lifecycle-engine/rules"
	"github.com/safeops/lifecycle-engine/storage"
	"github.com/safeops/lifecycle-engine/types"
	"github.com/safeops/lifecycle-engine/workflow"
)

type testIDGen struct {
	id uint64
}

func (g *testIDGen) NextID() (uint64, error) {
	g.id++
	return g.id, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine, err := workflow.NewEngine(&testIDGen{}, storage.NewMemoryStorage(), rules.NewExprEvaluator())
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return SetupRouter(engine, logger)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerPermitFamily(t *testing.T, router *gin.Engine) {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/families", types.FamilyConfig{
		Family: types.FamilyPermit,
		Name:   "Work Permit",
		ApprovalSteps: []types.WorkflowStepDef{
			{Order: 1, Role: "hod", Required: true},
		},
		StopWorkRule: `role == "safety_incharge"`,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func createRecord(t *testing.T, router *gin.Engine) uint64 {
	t.Helper()
	now := time.Now().UnixMilli()
	w := doJSON(t, router, http.MethodPost, "/api/v1/records", map[string]interface{}{
		"family": types.FamilyPermit,
		"owner":  "u-owner",
		"title":  "grinding work",
		"schedule": map[string]int64{
			"start": now,
			"end":   now + 8*time.Hour.Milliseconds(),
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data types.LifecycleRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data.ID
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	registerPermitFamily(t, router)
	id := createRecord(t, router)

	base := fmt.Sprintf("/api/v1/records/%d", id)

	w := doJSON(t, router, http.MethodPost, base+"/submit", map[string]string{
		"actor_id": "u-owner", "actor_role": "worker",
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, base+"/decide", map[string]interface{}{
		"actor_id": "u-hod", "actor_role": "hod", "step": 1, "decision": "approve",
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, base+"/activate", map[string]string{
		"actor_id": "u-owner", "actor_role": "worker",
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Read-side projection reflects the active state.
	w = doJSON(t, router, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Data struct {
			Record types.LifecycleRecord `json:"record"`
			Expiry *struct {
				Status string `json:"status"`
			} `json:"expiry"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, types.StateActive, view.Data.Record.State)
	require.NotNil(t, view.Data.Expiry)

	// No closure steps configured: closure submission closes directly.
	w = doJSON(t, router, http.MethodPost, base+"/closure", map[string]interface{}{
		"actor_id": "u-owner", "actor_role": "worker", "evidence": "area restored",
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var closed struct {
		Data types.LifecycleRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &closed))
	assert.Equal(t, types.StateClosed, closed.Data.State)

	// The list query returns the record with its full history.
	w = doJSON(t, router, http.MethodGet, "/api/v1/records?family=permit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []types.LifecycleRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, types.StateClosed, list.Data[0].State)
	require.NotNil(t, list.Data[0].ClosureRecord)
	assert.Len(t, list.Data[0].ApprovalSteps, 1)
}

func TestErrorMapping(t *testing.T) {
	router := newTestRouter(t)
	registerPermitFamily(t, router)
	id := createRecord(t, router)
	base := fmt.Sprintf("/api/v1/records/%d", id)

	// Unknown record -> 404.
	w := doJSON(t, router, http.MethodGet, "/api/v1/records/99999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Non-owner submit -> 403.
	w = doJSON(t, router, http.MethodPost, base+"/submit", map[string]string{
		"actor_id": "u-other", "actor_role": "hod",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Activating a draft -> 409.
	w = doJSON(t, router, http.MethodPost, base+"/activate", map[string]string{
		"actor_id": "u-owner", "actor_role": "worker",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Malformed body -> 400.
	w = doJSON(t, router, http.MethodPost, base+"/submit", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Malformed record ID -> 400.
	w = doJSON(t, router, http.MethodGet, "/api/v1/records/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecideStepOrderZero(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/families", types.FamilyConfig{
		Family: "audit",
		Name:   "Audit Review",
		ApprovalSteps: []types.WorkflowStepDef{
			{Order: 0, Role: "auditor", Required: true},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	now := time.Now().UnixMilli()
	w = doJSON(t, router, http.MethodPost, "/api/v1/records", map[string]interface{}{
		"family": "audit",
		"owner":  "u-owner",
		"schedule": map[string]int64{
			"start": now,
			"end":   now + time.Hour.Milliseconds(),
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data types.LifecycleRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	base := fmt.Sprintf("/api/v1/records/%d", created.Data.ID)

	w = doJSON(t, router, http.MethodPost, base+"/submit", map[string]string{
		"actor_id": "u-owner", "actor_role": "worker",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// A step whose order is zero must still be addressable.
	w = doJSON(t, router, http.MethodPost, base+"/decide", map[string]interface{}{
		"actor_id": "u-aud", "actor_role": "auditor", "step": 0, "decision": "approve",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var decided struct {
		Data types.LifecycleRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decided))
	assert.Equal(t, types.StateApproved, decided.Data.State)
}

func TestStopWorkOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	registerPermitFamily(t, router)
	id := createRecord(t, router)
	base := fmt.Sprintf("/api/v1/records/%d", id)

	doJSON(t, router, http.MethodPost, base+"/submit", map[string]string{"actor_id": "u-owner", "actor_role": "worker"})
	doJSON(t, router, http.MethodPost, base+"/decide", map[string]interface{}{"actor_id": "u-hod", "actor_role": "hod", "step": 1, "decision": "approve"})
	doJSON(t, router, http.MethodPost, base+"/activate", map[string]string{"actor_id": "u-owner", "actor_role": "worker"})

	// The owner's role lacks the capability.
	w := doJSON(t, router, http.MethodPost, base+"/stop", map[string]string{
		"actor_id": "u-owner", "actor_role": "worker", "reason": "gas alarm",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPost, base+"/stop", map[string]string{
		"actor_id": "u-si", "actor_role": "safety_incharge", "reason": "gas alarm",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data types.LifecycleRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, types.StateStopped, resp.Data.State)
	require.NotNil(t, resp.Data.StopRecord)
	assert.Equal(t, types.UserID("u-si"), resp.Data.StopRecord.StoppedBy)
}
