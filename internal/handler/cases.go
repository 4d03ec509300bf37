package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crisisengine/internal/crisiserr"
	"crisisengine/internal/crypto"
	"crisisengine/internal/escalation"
	"crisisengine/internal/models"
	"crisisengine/internal/repository"
)

type CaseHandler interface {
	ListCases(c *gin.Context)
	GetCase(c *gin.Context)
	AssignCase(c *gin.Context)
	TransitionCase(c *gin.Context)
	ReviewQueue(c *gin.Context)
	ReviewDetection(c *gin.Context)
}

type caseHandler struct {
	orchestrator *escalation.Orchestrator
	cases        repository.EscalationRepository
	detections   repository.DetectionRepository
	contacts     repository.ContactRepository
	reviewers    repository.ReviewerRepository
	plans        repository.SafetyPlanRepository
	cipher       *crypto.ExcerptCipher
	logger       *zap.Logger
}

func NewCaseHandler(
	orchestrator *escalation.Orchestrator,
	cases repository.EscalationRepository,
	detections repository.DetectionRepository,
	contacts repository.ContactRepository,
	reviewers repository.ReviewerRepository,
	plans repository.SafetyPlanRepository,
	cipher *crypto.ExcerptCipher,
	logger *zap.Logger,
) CaseHandler {
	return &caseHandler{
		orchestrator: orchestrator,
		cases:        cases,
		detections:   detections,
		contacts:     contacts,
		reviewers:    reviewers,
		plans:        plans,
		cipher:       cipher,
		logger:       logger,
	}
}

// ListCases handles GET /api/v1/cases
// Query parameters:
// - status: filter by case status (optional)
// - severity: filter by severity (optional)
// - reviewer_id: filter by assigned reviewer (optional)
func (h *caseHandler) ListCases(c *gin.Context) {
	filter := repository.CaseFilter{
		Status:   c.Query("status"),
		Severity: c.Query("severity"),
	}
	if raw := c.Query("reviewer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reviewer_id"})
			return
		}
		filter.ReviewerID = &id
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		filter.Limit = limit
	}

	cases, err := h.cases.ListCases(filter)
	if err != nil {
		h.logger.Error("Failed to list cases", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve cases"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cases": cases})
}

// CaseDetail is the full reviewer view of one case.
type CaseDetail struct {
	Case        *models.EscalationCase   `json:"case"`
	Event       *models.DetectionEvent   `json:"event"`
	Excerpt     string                   `json:"excerpt,omitempty"`
	Transitions []*models.CaseTransition `json:"transitions"`
	Attempts    []*models.ContactAttempt `json:"contact_attempts"`
	SafetyPlan  *models.SafetyPlan       `json:"safety_plan,omitempty"`
}

// GetCase handles GET /api/v1/cases/:id
func (h *caseHandler) GetCase(c *gin.Context) {
	id := c.Param("id")

	esc, err := h.cases.GetCaseByID(id)
	if err != nil {
		if errors.Is(err, crisiserr.ErrCaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Case not found"})
			return
		}
		h.logger.Error("Failed to get case", zap.String("case_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve case"})
		return
	}

	detail := &CaseDetail{Case: esc}

	if event, err := h.detections.GetEventByID(esc.DetectionEventID); err != nil {
		h.logger.Warn("Failed to load detection event for case", zap.String("case_id", id), zap.Error(err))
	} else if event != nil {
		detail.Event = event
		if excerpt, err := h.cipher.Decrypt(event.ExcerptEncrypted); err != nil {
			h.logger.Warn("Failed to decrypt excerpt", zap.String("event_id", event.ID), zap.Error(err))
		} else {
			detail.Excerpt = excerpt
		}
	}

	if transitions, err := h.cases.GetTransitions(id); err != nil {
		h.logger.Warn("Failed to load transitions", zap.String("case_id", id), zap.Error(err))
	} else {
		detail.Transitions = transitions
	}

	if attempts, err := h.contacts.GetAttemptsByCase(id); err != nil {
		h.logger.Warn("Failed to load contact attempts", zap.String("case_id", id), zap.Error(err))
	} else {
		detail.Attempts = attempts
	}

	if esc.SafetyPlanID != nil {
		if plan, err := h.plans.GetPlanByUserID(esc.UserID); err != nil {
			h.logger.Warn("Failed to load safety plan", zap.String("case_id", id), zap.Error(err))
		} else {
			detail.SafetyPlan = plan
		}
	}

	c.JSON(http.StatusOK, detail)
}

type AssignCaseRequest struct {
	ReviewerID int64 `json:"reviewer_id" binding:"required"`
}

// AssignCase handles POST /api/v1/cases/:id/assign
func (h *caseHandler) AssignCase(c *gin.Context) {
	id := c.Param("id")

	var req AssignCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	esc, err := h.orchestrator.Assign(id, req.ReviewerID)
	if err != nil {
		switch {
		case errors.Is(err, crisiserr.ErrCaseNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Case not found"})
		case errors.Is(err, crisiserr.ErrAssignmentFailure):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Reviewer not found"})
		case errors.Is(err, crisiserr.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "Case is closed"})
		default:
			h.logger.Error("Failed to assign case", zap.String("case_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to assign case"})
		}
		return
	}

	c.JSON(http.StatusOK, esc)
}

type TransitionCaseRequest struct {
	NewState      string  `json:"new_state" binding:"required"`
	UserSafe      *bool   `json:"user_safe,omitempty"`
	Outcome       *string `json:"outcome,omitempty"`
	Justification *string `json:"justification,omitempty"`
}

// TransitionCase handles POST /api/v1/cases/:id/transition
func (h *caseHandler) TransitionCase(c *gin.Context) {
	id := c.Param("id")

	var req TransitionCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reviewerID := c.GetInt64("reviewer_id")
	reviewer, err := h.reviewers.GetReviewerByID(reviewerID)
	if err != nil || reviewer == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown reviewer"})
		return
	}

	esc, err := h.orchestrator.ReviewerTransition(id, reviewer, escalation.TransitionRequest{
		To:            models.CaseStatus(req.NewState),
		UserSafe:      req.UserSafe,
		Outcome:       req.Outcome,
		Justification: req.Justification,
	})
	if err != nil {
		switch {
		case errors.Is(err, crisiserr.ErrCaseNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Case not found"})
		case errors.Is(err, crisiserr.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, crisiserr.ErrOutcomeRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Resolution requires user_safe"})
		case errors.Is(err, crisiserr.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Transition requires a justification"})
		default:
			h.logger.Error("Failed to transition case", zap.String("case_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to transition case"})
		}
		return
	}

	c.JSON(http.StatusOK, esc)
}
