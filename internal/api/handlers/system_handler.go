package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/repository"
)

type SystemHandler struct {
	activityRepo repository.ActivityRepository
	logger       *logrus.Logger
}

func NewSystemHandler(activityRepo repository.ActivityRepository, logger *logrus.Logger) *SystemHandler {
	return &SystemHandler{
		activityRepo: activityRepo,
		logger:       logger,
	}
}

// HealthCheck handles GET /health
func (h *SystemHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"service":   "migration-manager",
	})
}

// Activity handles GET /api/v1/activity
func (h *SystemHandler) Activity(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	entries, err := h.activityRepo.GetList(c.Request.Context(), models.ActivityQueryParam{
		EventType: models.ActivityEventType(c.Query("event_type")),
		Limit:     limit,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to list activity log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list activity log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries, "count": len(entries)})
}
