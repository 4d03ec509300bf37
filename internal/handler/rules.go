package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crisisengine/internal/models"
	"crisisengine/internal/repository"
	"crisisengine/internal/rules"
)

type RuleHandler interface {
	ListRules(c *gin.Context)
	CreateRule(c *gin.Context)
	UpdateRule(c *gin.Context)
	DeactivateRule(c *gin.Context)
	ReloadRules(c *gin.Context)
}

type ruleHandler struct {
	repo    repository.RuleRepository
	library *rules.Library
	logger  *zap.Logger
}

func NewRuleHandler(repo repository.RuleRepository, library *rules.Library, logger *zap.Logger) RuleHandler {
	return &ruleHandler{repo: repo, library: library, logger: logger}
}

// ListRules handles GET /api/v1/rules, including deactivated rules.
func (h *ruleHandler) ListRules(c *gin.Context) {
	all, err := h.repo.GetAllRules()
	if err != nil {
		h.logger.Error("Failed to list rules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": all, "rule_version": h.library.Current().Version})
}

type RuleRequest struct {
	Phrase          string  `json:"phrase" binding:"required"`
	Category        string  `json:"category" binding:"required"`
	Weight          float64 `json:"weight" binding:"required"`
	IsRegex         bool    `json:"is_regex"`
	CaseSensitive   bool    `json:"case_sensitive"`
	WordBoundary    bool    `json:"word_boundary"`
	ContextRequired bool    `json:"context_required"`
}

func (r *RuleRequest) validate() string {
	if r.Weight <= 0 || r.Weight > 1 {
		return "Weight must be in (0, 1]"
	}
	switch r.Category {
	case models.CategorySuicidalIdeation, models.CategorySelfHarm, models.CategoryPanicAttack,
		models.CategoryDomesticViolence, models.CategorySubstanceAbuse, models.CategoryEatingDisorder:
	default:
		return "Unknown category"
	}
	if _, err := rules.Compile(&models.KeywordRule{
		Phrase:        r.Phrase,
		IsRegex:       r.IsRegex,
		CaseSensitive: r.CaseSensitive,
		WordBoundary:  r.WordBoundary,
		Weight:        r.Weight,
	}); err != nil {
		return "Phrase does not compile: " + err.Error()
	}
	return ""
}

// CreateRule handles POST /api/v1/rules. The new rule takes effect on
// the next reload, not immediately.
func (h *ruleHandler) CreateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	rule := &models.KeywordRule{
		Phrase:          req.Phrase,
		Category:        req.Category,
		Weight:          req.Weight,
		IsRegex:         req.IsRegex,
		CaseSensitive:   req.CaseSensitive,
		WordBoundary:    req.WordBoundary,
		ContextRequired: req.ContextRequired,
		Active:          true,
		CreatedBy:       c.GetString("username"),
	}
	if err := h.repo.CreateRule(rule); err != nil {
		h.logger.Error("Failed to create rule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create rule"})
		return
	}

	h.logger.Info("Rule created",
		zap.Int64("rule_id", rule.ID),
		zap.String("category", rule.Category),
		zap.String("created_by", rule.CreatedBy))
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule handles PUT /api/v1/rules/:id
func (h *ruleHandler) UpdateRule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID"})
		return
	}

	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	rule, err := h.repo.GetRuleByID(id)
	if err != nil || rule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}

	rule.Phrase = req.Phrase
	rule.Category = req.Category
	rule.Weight = req.Weight
	rule.IsRegex = req.IsRegex
	rule.CaseSensitive = req.CaseSensitive
	rule.WordBoundary = req.WordBoundary
	rule.ContextRequired = req.ContextRequired
	if err := h.repo.UpdateRule(rule); err != nil {
		h.logger.Error("Failed to update rule", zap.Int64("rule_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update rule"})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeactivateRule handles DELETE /api/v1/rules/:id. A soft delete: the
// row stays so past detection events keep their provenance.
func (h *ruleHandler) DeactivateRule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule ID"})
		return
	}

	if err := h.repo.DeactivateRule(id); err != nil {
		h.logger.Error("Failed to deactivate rule", zap.Int64("rule_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate rule"})
		return
	}

	h.logger.Info("Rule deactivated",
		zap.Int64("rule_id", id),
		zap.String("deactivated_by", c.GetString("username")))
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

// ReloadRules handles POST /api/v1/rules/reload. In-flight scoring keeps
// the snapshot it started with.
func (h *ruleHandler) ReloadRules(c *gin.Context) {
	if err := h.library.Reload(); err != nil {
		h.logger.Error("Rule reload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Reload failed"})
		return
	}

	snap := h.library.Current()
	h.logger.Info("Rules reloaded",
		zap.Int64("rule_version", snap.Version),
		zap.Int("rule_count", snap.Len()),
		zap.String("reloaded_by", c.GetString("username")))
	c.JSON(http.StatusOK, gin.H{"rule_version": snap.Version, "rule_count": snap.Len()})
}
