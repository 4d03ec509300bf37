package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crisisengine/internal/analytics"
	"crisisengine/internal/repository"
)

type AnalyticsHandler interface {
	GetDashboard(c *gin.Context)
	ListSnapshots(c *gin.Context)
	GetRecommendations(c *gin.Context)
}

type analyticsHandler struct {
	aggregator *analytics.Aggregator
	snapshots  repository.SnapshotRepository
	logger     *zap.Logger
}

func NewAnalyticsHandler(aggregator *analytics.Aggregator, snapshots repository.SnapshotRepository, logger *zap.Logger) AnalyticsHandler {
	return &analyticsHandler{aggregator: aggregator, snapshots: snapshots, logger: logger}
}

// GetDashboard handles GET /api/v1/analytics/dashboard. Computes the
// current window live rather than waiting for the periodic snapshot.
func (h *analyticsHandler) GetDashboard(c *gin.Context) {
	snap, err := h.aggregator.ComputeSnapshot(time.Now())
	if err != nil {
		h.logger.Error("Failed to compute analytics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute analytics"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListSnapshots handles GET /api/v1/analytics/snapshots
func (h *analyticsHandler) ListSnapshots(c *gin.Context) {
	limit := 30
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	snaps, err := h.snapshots.GetSnapshots(limit)
	if err != nil {
		h.logger.Error("Failed to list snapshots", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve snapshots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

// GetRecommendations handles GET /api/v1/analytics/recommendations
func (h *analyticsHandler) GetRecommendations(c *gin.Context) {
	recs, err := h.aggregator.Recommendations(time.Now())
	if err != nil {
		h.logger.Error("Failed to compute recommendations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute recommendations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}
