package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crisisengine/internal/crisiserr"
	"crisisengine/internal/detector"
	"crisisengine/internal/pipeline"
)

type IngestHandler interface {
	SubmitContent(c *gin.Context)
}

type ingestHandler struct {
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

func NewIngestHandler(p *pipeline.Pipeline, logger *zap.Logger) IngestHandler {
	return &ingestHandler{pipeline: p, logger: logger}
}

// SubmitContentRequest is the ingestion call payload from the chat,
// journaling and mood-entry collaborators.
type SubmitContentRequest struct {
	UserID         int64    `json:"user_id" binding:"required"`
	SourceType     string   `json:"source_type" binding:"required"`
	SourceID       string   `json:"source_id" binding:"required"`
	Content        string   `json:"content"`
	Sentiment      *float64 `json:"sentiment,omitempty"`
	ContextFactors []string `json:"context_factors,omitempty"`
}

// SubmitContent handles POST /api/v1/content. The call is synchronous:
// by the time it returns, the detection event and any escalation case
// exist.
func (h *ingestHandler) SubmitContent(c *gin.Context) {
	var req SubmitContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.pipeline.Submit(c.Request.Context(), detector.Sample{
		UserID:         req.UserID,
		SourceType:     req.SourceType,
		SourceID:       req.SourceID,
		Content:        req.Content,
		Sentiment:      req.Sentiment,
		ContextFactors: req.ContextFactors,
	})
	if err != nil {
		switch {
		case errors.Is(err, crisiserr.ErrEmptyContent),
			errors.Is(err, crisiserr.ErrContentTooLarge),
			errors.Is(err, crisiserr.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Content submission failed",
				zap.Int64("user_id", req.UserID),
				zap.String("source_type", req.SourceType),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process content"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}
