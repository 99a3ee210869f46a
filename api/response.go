package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safeops/lifecycle-engine/types"
	"github.com/safeops/lifecycle-engine/workflow"
)

// Response is the uniform success envelope.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Success writes a 200 envelope.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

// Created writes a 201 envelope.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "created", Data: data})
}

// Error writes an error envelope with the given status code.
func Error(c *gin.Context, status int, message, detail string) {
	c.JSON(status, ErrorResponse{Code: status, Message: message, Detail: detail})
}

// EngineError maps a lifecycle engine error onto an HTTP response.
// Business-rule errors carry their message verbatim; invariant violations
// surface as a generic 500 so internal detail never leaks.
func EngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workflow.ErrRecordNotFound),
		errors.Is(err, workflow.ErrFamilyNotRegistered):
		Error(c, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, workflow.ErrUnauthorized):
		Error(c, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrAlreadyTerminal),
		errors.Is(err, workflow.ErrNotActionable):
		Error(c, http.StatusConflict, "action not allowed", err.Error())
	case errors.Is(err, types.ErrChecklistInvalid),
		errors.Is(err, workflow.ErrInvalidStepDefs):
		Error(c, http.StatusBadRequest, "invalid request", err.Error())
	case errors.Is(err, workflow.ErrInvariantViolation):
		Error(c, http.StatusInternalServerError, "internal error", "")
	default:
		Error(c, http.StatusInternalServerError, "internal error", err.Error())
	}
}
