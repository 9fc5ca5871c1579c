package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/models"
)

// StatsHandler serves dashboard statistics.
type StatsHandler struct {
	db *gorm.DB
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(db *gorm.DB) *StatsHandler {
	return &StatsHandler{db: db}
}

// Dashboard returns totals and the latest entity-level audit activity.
func (h *StatsHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	var totalLists int64
	if errCount := h.db.WithContext(ctx).Model(&models.List{}).Count(&totalLists).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count lists failed"})
		return
	}

	var totalIOCs int64
	if errCount := h.db.WithContext(ctx).Model(&models.IOC{}).Count(&totalIOCs).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count iocs failed"})
		return
	}

	var recent []models.AuditLog
	errRecent := h.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(10).
		Find(&recent).Error
	if errRecent != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load activity failed"})
		return
	}

	activity := make([]gin.H, 0, len(recent))
	for i := range recent {
		activity = append(activity, gin.H{
			"action":       recent[i].Action,
			"entity_type":  recent[i].EntityType,
			"entity_value": recent[i].EntityValue,
			"performed_by": recent[i].PerformedBy,
			"timestamp":    recent[i].CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total_lists":     totalLists,
		"total_iocs":      totalIOCs,
		"recent_activity": activity,
	})
}
