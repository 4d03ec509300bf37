package repository

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"crisisengine/internal/models"
)

type ResourceRepository interface {
	GetResources(crisisType, locale string) ([]*models.CrisisResource, error)
}

type SafetyPlanRepository interface {
	GetPlanByUserID(userID int64) (*models.SafetyPlan, error)
}

type resourceRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewResourceRepository(db *sqlx.DB, logger *zap.Logger) ResourceRepository {
	return &resourceRepository{db: db, logger: logger}
}

// GetResources looks up directory entries for a crisis type, preferring
// the caller's locale but always including the locale-independent rows.
func (r *resourceRepository) GetResources(crisisType, locale string) ([]*models.CrisisResource, error) {
	var resources []*models.CrisisResource
	query := `SELECT id, name, crisis_type, locale, phone, text_line, url, description, available
	          FROM crisis_resources
	          WHERE available = true AND crisis_type = $1 AND (locale = $2 OR locale = '*')
	          ORDER BY locale DESC, name ASC`
	if err := r.db.Select(&resources, query, crisisType, locale); err != nil {
		return nil, err
	}
	return resources, nil
}

type safetyPlanRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSafetyPlanRepository(db *sqlx.DB, logger *zap.Logger) SafetyPlanRepository {
	return &safetyPlanRepository{db: db, logger: logger}
}

func (r *safetyPlanRepository) GetPlanByUserID(userID int64) (*models.SafetyPlan, error) {
	var plan models.SafetyPlan
	query := `SELECT id, user_id, warning_signs, coping_strategies, emergency_contact, updated_at
	          FROM safety_plans WHERE user_id = $1`
	err := r.db.Get(&plan, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}
