package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/services/executions"
)

type ExecutionHandler struct {
	orchestrator executions.Orchestrator
	logger       *logrus.Logger
}

func NewExecutionHandler(orchestrator executions.Orchestrator, logger *logrus.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Execute handles POST /api/v1/executions. The execution is accepted and
// driven in the background; the response carries the initial record.
func (h *ExecutionHandler) Execute(c *gin.Context) {
	var req models.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	execution, err := h.orchestrator.Execute(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, execution)
}

// Get handles GET /api/v1/executions/:id, targets included.
func (h *ExecutionHandler) Get(c *gin.Context) {
	execution, err := h.orchestrator.Get(c.Request.Context(), c.Param("id"), true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

// List handles GET /api/v1/executions.
func (h *ExecutionHandler) List(c *gin.Context) {
	param := models.ExecutionQueryParam{}
	if raw := c.Query("status"); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			param.Statuses = append(param.Statuses, models.ExecutionStatus(status))
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		param.Limit = limit
	}

	list, err := h.orchestrator.List(c.Request.Context(), param)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list executions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": list, "count": len(list)})
}

// Cancel handles POST /api/v1/executions/:id/cancel.
func (h *ExecutionHandler) Cancel(c *gin.Context) {
	execution, err := h.orchestrator.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

// Retry handles POST /api/v1/executions/:id/retry.
func (h *ExecutionHandler) Retry(c *gin.Context) {
	execution, err := h.orchestrator.RetryFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

// TargetOutput handles GET /api/v1/executions/:id/targets/:targetId/output.
func (h *ExecutionHandler) TargetOutput(c *gin.Context) {
	targetID, ok := pathID(c, "targetId")
	if !ok {
		return
	}
	target, err := h.orchestrator.GetTargetOutput(c.Request.Context(), c.Param("id"), targetID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, target)
}

func (h *ExecutionHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, executions.ErrExecutionNotFound),
		errors.Is(err, executions.ErrTargetNotFound),
		errors.Is(err, executions.ErrScriptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, executions.ErrScriptNotApproved):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, executions.ErrNoTargets), errors.Is(err, executions.ErrNoContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, executions.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.WithError(err).Error("Execution operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
