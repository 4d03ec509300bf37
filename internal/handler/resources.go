package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crisisengine/internal/repository"
)

type ResourceHandler interface {
	GetResources(c *gin.Context)
}

type resourceHandler struct {
	repo   repository.ResourceRepository
	logger *zap.Logger
}

func NewResourceHandler(repo repository.ResourceRepository, logger *zap.Logger) ResourceHandler {
	return &resourceHandler{repo: repo, logger: logger}
}

// GetResources handles GET /api/v1/resources. Falls back to general
// resources inside the repository when no category-specific row exists.
func (h *resourceHandler) GetResources(c *gin.Context) {
	crisisType := c.DefaultQuery("crisis_type", "general")
	locale := c.DefaultQuery("locale", "en-US")

	resources, err := h.repo.GetResources(crisisType, locale)
	if err != nil {
		h.logger.Error("Failed to get resources",
			zap.String("crisis_type", crisisType),
			zap.String("locale", locale),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve resources"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": resources})
}
