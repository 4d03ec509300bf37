package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crisisengine/internal/models"
)

const defaultReviewQueueLimit = 50

// FlaggedDetection is one review-queue entry: the stored event plus the
// decrypted excerpt the reviewer needs to judge it.
type FlaggedDetection struct {
	Event   *models.DetectionEvent `json:"event"`
	Excerpt string                 `json:"excerpt,omitempty"`
}

// ReviewQueue handles GET /api/v1/detections/flagged
// Lists detection events flagged for human review that no reviewer has
// judged yet, oldest first.
func (h *caseHandler) ReviewQueue(c *gin.Context) {
	limit := defaultReviewQueueLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	events, err := h.detections.GetFlaggedForReview(limit)
	if err != nil {
		h.logger.Error("Failed to list flagged detections", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve review queue"})
		return
	}

	queue := make([]*FlaggedDetection, 0, len(events))
	for _, event := range events {
		entry := &FlaggedDetection{Event: event}
		if excerpt, err := h.cipher.Decrypt(event.ExcerptEncrypted); err != nil {
			h.logger.Warn("Failed to decrypt excerpt", zap.String("event_id", event.ID), zap.Error(err))
		} else {
			entry.Excerpt = excerpt
		}
		queue = append(queue, entry)
	}

	c.JSON(http.StatusOK, gin.H{"detections": queue})
}

type ReviewDetectionRequest struct {
	FalsePositive *bool `json:"false_positive" binding:"required"`
}

// ReviewDetection handles POST /api/v1/detections/:id/review
// Records the reviewer's verdict on a flagged event. This is the review
// path for sampled detections that never opened a case; case-bearing
// events get their verdict from the case's terminal transition.
func (h *caseHandler) ReviewDetection(c *gin.Context) {
	id := c.Param("id")

	var req ReviewDetectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "false_positive is required"})
		return
	}

	event, err := h.detections.GetEventByID(id)
	if err != nil {
		h.logger.Error("Failed to load detection event", zap.String("event_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve detection"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Detection not found"})
		return
	}
	if event.ReviewedAt != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Detection already reviewed"})
		return
	}

	reviewerID := c.GetInt64("reviewer_id")
	if err := h.detections.MarkReviewed(id, reviewerID, *req.FalsePositive); err != nil {
		h.logger.Error("Failed to record review verdict", zap.String("event_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record review"})
		return
	}

	h.logger.Info("Detection reviewed",
		zap.String("event_id", id),
		zap.Int64("reviewer_id", reviewerID),
		zap.Bool("false_positive", *req.FalsePositive))
	c.JSON(http.StatusOK, gin.H{"event_id": id, "false_positive": *req.FalsePositive})
}
