package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/repository"
	"github.com/shihanpietersz/migration-manager/internal/services/validation"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

type ValidationHandler struct {
	engine           validation.Engine
	notificationRepo repository.NotificationRepository
	logger           *logrus.Logger
}

func NewValidationHandler(engine validation.Engine, notificationRepo repository.NotificationRepository, logger *logrus.Logger) *ValidationHandler {
	return &ValidationHandler{
		engine:           engine,
		notificationRepo: notificationRepo,
		logger:           logger,
	}
}

// --- tests ---

func (h *ValidationHandler) CreateTest(c *gin.Context) {
	var req models.CreateTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	test, err := h.engine.CreateTest(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, test)
}

func (h *ValidationHandler) UpdateTest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.CreateTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	test, err := h.engine.UpdateTest(c.Request.Context(), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, test)
}

func (h *ValidationHandler) DeleteTest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.engine.DeleteTest(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *ValidationHandler) GetTest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	test, err := h.engine.GetTest(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, test)
}

func (h *ValidationHandler) ListTests(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	tests, err := h.engine.ListTests(c.Request.Context(), c.Query("category"), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tests")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tests"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tests": tests, "count": len(tests)})
}

// --- suites ---

func (h *ValidationHandler) CreateSuite(c *gin.Context) {
	var suite models.TestSuiteEntity
	if err := c.ShouldBindJSON(&suite); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := h.engine.CreateSuite(c.Request.Context(), &suite)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *ValidationHandler) UpdateSuite(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var suite models.TestSuiteEntity
	if err := c.ShouldBindJSON(&suite); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := h.engine.UpdateSuite(c.Request.Context(), id, &suite)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *ValidationHandler) DeleteSuite(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.engine.DeleteSuite(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *ValidationHandler) GetSuite(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	suite, err := h.engine.GetSuite(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, suite)
}

func (h *ValidationHandler) ListSuites(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	suites, err := h.engine.ListSuites(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list suites")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list suites"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"suites": suites, "count": len(suites)})
}

// RunSuite handles POST /api/v1/suites/:id/run.
func (h *ValidationHandler) RunSuite(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		VMID   string          `json:"vm_id" binding:"required"`
		VMName string          `json:"vm_name" binding:"required"`
		OSType models.TargetOS `json:"os_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary, err := h.engine.RunSuite(c.Request.Context(), id, req.VMID, req.VMName, req.OSType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// --- assignments ---

func (h *ValidationHandler) CreateAssignment(c *gin.Context) {
	var req models.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	assignment, err := h.engine.CreateAssignment(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, assignment)
}

func (h *ValidationHandler) UpdateAssignment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.UpdateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	assignment, err := h.engine.UpdateAssignment(c.Request.Context(), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignment)
}

func (h *ValidationHandler) DeleteAssignment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.engine.DeleteAssignment(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *ValidationHandler) GetAssignment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	assignment, err := h.engine.GetAssignment(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignment)
}

func (h *ValidationHandler) ListAssignments(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	param := models.AssignmentQueryParam{
		VMID:  c.Query("vm_id"),
		Limit: limit,
	}
	if raw := c.Query("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "enabled must be a boolean"})
			return
		}
		param.Enabled = utils.ToPointer(enabled)
	}
	assignments, err := h.engine.ListAssignments(c.Request.Context(), param)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list assignments")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list assignments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments, "count": len(assignments)})
}

// RunAssignment handles POST /api/v1/assignments/:id/run.
func (h *ValidationHandler) RunAssignment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := h.engine.RunAssignment(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetResults handles GET /api/v1/assignments/:id/results.
func (h *ValidationHandler) GetResults(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	results, err := h.engine.GetResults(c.Request.Context(), id, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// RunVMTests handles POST /api/v1/vms/:vmId/run-tests.
func (h *ValidationHandler) RunVMTests(c *gin.Context) {
	summary, err := h.engine.RunAllVMTests(c.Request.Context(), c.Param("vmId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// --- notification rules ---

func (h *ValidationHandler) CreateNotification(c *gin.Context) {
	var notification models.TestNotificationEntity
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.notificationRepo.Create(c.Request.Context(), &notification); err != nil {
		h.logger.WithError(err).Error("Failed to create notification rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, notification)
}

func (h *ValidationHandler) UpdateNotification(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	existing, err := h.notificationRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification rule not found"})
		return
	}
	var notification models.TestNotificationEntity
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	notification.ID = id
	notification.CreatedAt = existing.CreatedAt
	notification.LastNotifiedAt = existing.LastNotifiedAt
	if err := h.notificationRepo.Update(c.Request.Context(), &notification); err != nil {
		h.logger.WithError(err).Error("Failed to update notification rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, notification)
}

func (h *ValidationHandler) DeleteNotification(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	existing, err := h.notificationRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification rule not found"})
		return
	}
	if err := h.notificationRepo.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *ValidationHandler) GetNotification(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	notification, err := h.notificationRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if notification == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification rule not found"})
		return
	}
	c.JSON(http.StatusOK, notification)
}

func (h *ValidationHandler) ListNotifications(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	notifications, err := h.notificationRepo.GetList(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list notification rules")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notification rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications, "count": len(notifications)})
}

func (h *ValidationHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, validation.ErrTestNotFound),
		errors.Is(err, validation.ErrSuiteNotFound),
		errors.Is(err, validation.ErrAssignmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, validation.ErrBuiltInImmutable),
		errors.Is(err, validation.ErrTestInUse):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.WithError(err).Error("Validation operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// queryInt parses an optional integer query parameter, answering 400 itself
// on bad input.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
		return 0, false
	}
	return value, true
}
