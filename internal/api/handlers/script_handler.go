package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/services/scripts"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type ScriptHandler struct {
	scripts scripts.ScriptService
	logger  *logrus.Logger
}

func NewScriptHandler(scriptService scripts.ScriptService, logger *logrus.Logger) *ScriptHandler {
	return &ScriptHandler{
		scripts: scriptService,
		logger:  logger,
	}
}

// Create handles POST /api/v1/scripts. A critical-risk script is rejected
// with 422 and the scan report so the caller can show what tripped.
func (h *ScriptHandler) Create(c *gin.Context) {
	var req models.CreateScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	script, scan, err := h.scripts.Create(c.Request.Context(), &req)
	if err != nil {
		h.respondScriptError(c, err, scan)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"script": script, "scan": scan})
}

// Update handles PUT /api/v1/scripts/:id.
func (h *ScriptHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.UpdateScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	script, scan, err := h.scripts.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.respondScriptError(c, err, scan)
		return
	}
	c.JSON(http.StatusOK, gin.H{"script": script, "scan": scan})
}

// Delete handles DELETE /api/v1/scripts/:id.
func (h *ScriptHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.scripts.Delete(c.Request.Context(), id); err != nil {
		h.respondScriptError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Get handles GET /api/v1/scripts/:id.
func (h *ScriptHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	script, err := h.scripts.Get(c.Request.Context(), id)
	if err != nil {
		h.respondScriptError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, script)
}

// List handles GET /api/v1/scripts.
func (h *ScriptHandler) List(c *gin.Context) {
	param := models.ScriptQueryParam{
		Dialect:   models.ScriptDialect(c.Query("dialect")),
		TargetOS:  models.TargetOS(c.Query("target_os")),
		RiskLevel: models.RiskLevel(c.Query("risk_level")),
	}
	if raw := c.Query("built_in"); raw != "" {
		builtIn, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "built_in must be a boolean"})
			return
		}
		param.BuiltIn = utils.ToPointer(builtIn)
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		param.Limit = limit
	}

	list, err := h.scripts.List(c.Request.Context(), param)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list scripts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list scripts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scripts": list, "count": len(list)})
}

// Approve handles POST /api/v1/scripts/:id/approve.
func (h *ScriptHandler) Approve(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.ApproveScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	script, err := h.scripts.Approve(c.Request.Context(), id, req.ApprovedBy)
	if err != nil {
		h.respondScriptError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, script)
}

// Validate handles POST /api/v1/scripts/validate. Scan-only, nothing is
// persisted.
func (h *ScriptHandler) Validate(c *gin.Context) {
	var req models.ValidateScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	scan := h.scripts.Validate(c.Request.Context(), &req)
	c.JSON(http.StatusOK, scan)
}

func (h *ScriptHandler) respondScriptError(c *gin.Context, err error, scan *models.ScanResult) {
	switch {
	case errors.Is(err, scripts.ErrScriptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scripts.ErrScriptBlocked):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "scan": scan})
	case errors.Is(err, scripts.ErrBuiltInImmutable), errors.Is(err, scripts.ErrNameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.WithError(err).Error("Script operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// pathID parses a numeric :id style path parameter, answering 400 itself on
// bad input.
func pathID(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}
