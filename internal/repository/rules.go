package repository

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"crisisengine/internal/models"
)

type RuleRepository interface {
	GetActiveRules() ([]*models.KeywordRule, error)
	GetAllRules() ([]*models.KeywordRule, error)
	GetRuleByID(id int64) (*models.KeywordRule, error)
	CreateRule(rule *models.KeywordRule) error
	UpdateRule(rule *models.KeywordRule) error
	DeactivateRule(id int64) error
}

type ruleRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewRuleRepository(db *sqlx.DB, logger *zap.Logger) RuleRepository {
	return &ruleRepository{db: db, logger: logger}
}

func (r *ruleRepository) GetActiveRules() ([]*models.KeywordRule, error) {
	var rules []*models.KeywordRule
	query := `SELECT id, phrase, category, weight, is_regex, case_sensitive, word_boundary, context_required,
	          active, created_by, created_at, updated_at, deactivated_at
	          FROM keyword_rules WHERE active = true ORDER BY id`
	if err := r.db.Select(&rules, query); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *ruleRepository) GetAllRules() ([]*models.KeywordRule, error) {
	var rules []*models.KeywordRule
	query := `SELECT id, phrase, category, weight, is_regex, case_sensitive, word_boundary, context_required,
	          active, created_by, created_at, updated_at, deactivated_at
	          FROM keyword_rules ORDER BY id`
	if err := r.db.Select(&rules, query); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *ruleRepository) GetRuleByID(id int64) (*models.KeywordRule, error) {
	var rule models.KeywordRule
	query := `SELECT id, phrase, category, weight, is_regex, case_sensitive, word_boundary, context_required,
	          active, created_by, created_at, updated_at, deactivated_at
	          FROM keyword_rules WHERE id = $1`
	err := r.db.Get(&rule, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) CreateRule(rule *models.KeywordRule) error {
	query := `INSERT INTO keyword_rules (phrase, category, weight, is_regex, case_sensitive, word_boundary, context_required, active, created_by)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8) RETURNING id, active, created_at, updated_at`
	return r.db.QueryRowx(query, rule.Phrase, rule.Category, rule.Weight, rule.IsRegex, rule.CaseSensitive,
		rule.WordBoundary, rule.ContextRequired, rule.CreatedBy).StructScan(rule)
}

func (r *ruleRepository) UpdateRule(rule *models.KeywordRule) error {
	query := `UPDATE keyword_rules
	          SET phrase = $1, category = $2, weight = $3, is_regex = $4, case_sensitive = $5,
	              word_boundary = $6, context_required = $7, updated_at = now()
	          WHERE id = $8`
	_, err := r.db.Exec(query, rule.Phrase, rule.Category, rule.Weight, rule.IsRegex, rule.CaseSensitive,
		rule.WordBoundary, rule.ContextRequired, rule.ID)
	return err
}

// DeactivateRule soft-deletes. Rules are never removed: detection
// events keep referencing the rule state that matched.
func (r *ruleRepository) DeactivateRule(id int64) error {
	query := `UPDATE keyword_rules SET active = false, deactivated_at = $1, updated_at = now() WHERE id = $2`
	_, err := r.db.Exec(query, time.Now().UTC(), id)
	return err
}
