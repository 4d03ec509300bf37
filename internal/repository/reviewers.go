package repository

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"crisisengine/internal/models"
)

type ReviewerRepository interface {
	GetReviewerByID(id int64) (*models.Reviewer, error)
	GetReviewerByUsername(username string) (*models.Reviewer, error)
	// GetAvailableReviewers returns available crisis-response staff
	// ordered for least-loaded assignment: fewest open cases first,
	// then fastest average response, then id for a stable order.
	GetAvailableReviewers() ([]*models.Reviewer, error)
	AdjustOpenCaseCount(id int64, delta int) error
	RecordResponseTime(id int64, seconds float64) error
}

type reviewerRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewReviewerRepository(db *sqlx.DB, logger *zap.Logger) ReviewerRepository {
	return &reviewerRepository{db: db, logger: logger}
}

const reviewerColumns = `id, username, password_hash, role, available, open_case_count, avg_response_secs, created_at`

func (r *reviewerRepository) GetReviewerByID(id int64) (*models.Reviewer, error) {
	var reviewer models.Reviewer
	err := r.db.Get(&reviewer, `SELECT `+reviewerColumns+` FROM reviewers WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &reviewer, nil
}

func (r *reviewerRepository) GetReviewerByUsername(username string) (*models.Reviewer, error) {
	var reviewer models.Reviewer
	err := r.db.Get(&reviewer, `SELECT `+reviewerColumns+` FROM reviewers WHERE username = $1`, username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &reviewer, nil
}

func (r *reviewerRepository) GetAvailableReviewers() ([]*models.Reviewer, error) {
	var reviewers []*models.Reviewer
	query := `SELECT ` + reviewerColumns + ` FROM reviewers
	          WHERE available = true AND role IN ('reviewer', 'supervisor')
	          ORDER BY open_case_count ASC, avg_response_secs ASC, id ASC`
	if err := r.db.Select(&reviewers, query); err != nil {
		return nil, err
	}
	return reviewers, nil
}

func (r *reviewerRepository) AdjustOpenCaseCount(id int64, delta int) error {
	query := `UPDATE reviewers SET open_case_count = greatest(open_case_count + $1, 0) WHERE id = $2`
	_, err := r.db.Exec(query, delta, id)
	return err
}

// RecordResponseTime folds one observation into the reviewer's running
// average with an exponential weight, matching how the caseload fields
// are meant to drive assignment rather than exact bookkeeping.
func (r *reviewerRepository) RecordResponseTime(id int64, seconds float64) error {
	query := `UPDATE reviewers
	          SET avg_response_secs = CASE WHEN avg_response_secs = 0 THEN $1 ELSE avg_response_secs * 0.8 + $1 * 0.2 END
	          WHERE id = $2`
	_, err := r.db.Exec(query, seconds, id)
	return err
}
