package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"crisisengine/internal/crisiserr"
	"crisisengine/internal/models"
)

type CaseFilter struct {
	Status     string
	Severity   string
	ReviewerID *int64
	Limit      int
}

type EscalationRepository interface {
	CreateCase(c *models.EscalationCase) error
	GetCaseByID(id string) (*models.EscalationCase, error)
	GetActiveCaseForEvent(eventID string) (*models.EscalationCase, error)
	ListCases(filter CaseFilter) ([]*models.EscalationCase, error)
	ListActiveCases() ([]*models.EscalationCase, error)
	AssignReviewer(caseID string, reviewerID int64) error
	TransitionCase(c *models.EscalationCase, to models.CaseStatus, actor string, justification *string) error
	RaiseLevel(caseID string) error
	IncrementContactAttempts(caseID string) error
	GetTransitions(caseID string) ([]*models.CaseTransition, error)
	GetCasesInWindow(from, to time.Time) ([]*models.EscalationCase, error)
	CountActive() (int, error)
}

type escalationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewEscalationRepository(db *sqlx.DB, logger *zap.Logger) EscalationRepository {
	return &escalationRepository{db: db, logger: logger}
}

const caseColumns = `id, detection_event_id, user_id, severity, status, escalation_level, assigned_reviewer_id,
	contact_attempt_count, safety_plan_id, user_safe, outcome, justification, first_response_at, resolved_at,
	created_at, updated_at`

// CreateCase inserts a case in the initial detected state. The partial
// unique index on (detection_event_id) WHERE status is non-terminal is
// the real guard against concurrent duplicates; a violation surfaces
// as ErrDuplicateActiveCase.
func (r *escalationRepository) CreateCase(c *models.EscalationCase) error {
	query := `INSERT INTO escalation_cases
	          (id, detection_event_id, user_id, severity, status, escalation_level, safety_plan_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING created_at, updated_at`
	err := r.db.QueryRowx(query, c.ID, c.DetectionEventID, c.UserID, c.Severity, c.Status,
		c.EscalationLevel, c.SafetyPlanID).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return crisiserr.ErrDuplicateActiveCase
		}
		return fmt.Errorf("%w: %v", crisiserr.ErrPersistence, err)
	}
	return nil
}

func (r *escalationRepository) GetCaseByID(id string) (*models.EscalationCase, error) {
	var c models.EscalationCase
	query := `SELECT ` + caseColumns + ` FROM escalation_cases WHERE id = $1`
	err := r.db.Get(&c, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, crisiserr.ErrCaseNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *escalationRepository) GetActiveCaseForEvent(eventID string) (*models.EscalationCase, error) {
	var c models.EscalationCase
	query := `SELECT ` + caseColumns + ` FROM escalation_cases
	          WHERE detection_event_id = $1 AND status NOT IN ('resolved', 'false_positive')`
	err := r.db.Get(&c, query, eventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *escalationRepository) ListCases(filter CaseFilter) ([]*models.EscalationCase, error) {
	query := `SELECT ` + caseColumns + ` FROM escalation_cases WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", idx)
		args = append(args, filter.Severity)
		idx++
	}
	if filter.ReviewerID != nil {
		query += fmt.Sprintf(" AND assigned_reviewer_id = $%d", idx)
		args = append(args, *filter.ReviewerID)
		idx++
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
	}

	var cases []*models.EscalationCase
	if err := r.db.Select(&cases, query, args...); err != nil {
		return nil, err
	}
	return cases, nil
}

func (r *escalationRepository) ListActiveCases() ([]*models.EscalationCase, error) {
	var cases []*models.EscalationCase
	query := `SELECT ` + caseColumns + ` FROM escalation_cases
	          WHERE status NOT IN ('resolved', 'false_positive') ORDER BY created_at ASC`
	if err := r.db.Select(&cases, query); err != nil {
		return nil, err
	}
	return cases, nil
}

func (r *escalationRepository) AssignReviewer(caseID string, reviewerID int64) error {
	query := `UPDATE escalation_cases SET assigned_reviewer_id = $1, updated_at = now() WHERE id = $2`
	result, err := r.db.Exec(query, reviewerID, caseID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return crisiserr.ErrCaseNotFound
	}
	return nil
}

// TransitionCase updates the case row and appends to the transition
// log in one transaction, so a replay of case_transitions always
// matches the case's current state.
func (r *escalationRepository) TransitionCase(c *models.EscalationCase, to models.CaseStatus, actor string, justification *string) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("%w: %v", crisiserr.ErrPersistence, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	from := c.Status

	query := `UPDATE escalation_cases SET status = $1, updated_at = $2`
	args := []interface{}{to, now}
	idx := 3

	if to == models.StatusEscalated && c.FirstResponseAt == nil {
		query += fmt.Sprintf(", first_response_at = $%d", idx)
		args = append(args, now)
		idx++
	}
	if to.Terminal() {
		query += fmt.Sprintf(", resolved_at = $%d", idx)
		args = append(args, now)
		idx++
	}
	if to == models.StatusResolved {
		query += fmt.Sprintf(", user_safe = $%d, outcome = $%d", idx, idx+1)
		args = append(args, c.UserSafe, c.Outcome)
		idx += 2
	}
	if justification != nil {
		query += fmt.Sprintf(", justification = $%d", idx)
		args = append(args, *justification)
		idx++
	}
	query += fmt.Sprintf(" WHERE id = $%d AND status = $%d", idx, idx+1)
	args = append(args, c.ID, from)

	result, err := tx.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", crisiserr.ErrPersistence, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Someone else moved the case first.
		return crisiserr.ErrInvalidTransition
	}

	_, err = tx.Exec(
		`INSERT INTO case_transitions (case_id, from_status, to_status, actor, justification) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, from, to, actor, justification)
	if err != nil {
		return fmt.Errorf("%w: %v", crisiserr.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", crisiserr.ErrPersistence, err)
	}

	c.Status = to
	c.UpdatedAt = now
	if to == models.StatusEscalated && c.FirstResponseAt == nil {
		c.FirstResponseAt = &now
	}
	if to.Terminal() {
		c.ResolvedAt = &now
	}
	return nil
}

func (r *escalationRepository) RaiseLevel(caseID string) error {
	query := `UPDATE escalation_cases SET escalation_level = escalation_level + 1, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(query, caseID)
	return err
}

func (r *escalationRepository) IncrementContactAttempts(caseID string) error {
	query := `UPDATE escalation_cases SET contact_attempt_count = contact_attempt_count + 1, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(query, caseID)
	return err
}

func (r *escalationRepository) GetTransitions(caseID string) ([]*models.CaseTransition, error) {
	var transitions []*models.CaseTransition
	query := `SELECT id, case_id, from_status, to_status, actor, justification, created_at
	          FROM case_transitions WHERE case_id = $1 ORDER BY id ASC`
	if err := r.db.Select(&transitions, query, caseID); err != nil {
		return nil, err
	}
	return transitions, nil
}

func (r *escalationRepository) GetCasesInWindow(from, to time.Time) ([]*models.EscalationCase, error) {
	var cases []*models.EscalationCase
	query := `SELECT ` + caseColumns + ` FROM escalation_cases
	          WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`
	if err := r.db.Select(&cases, query, from, to); err != nil {
		return nil, err
	}
	return cases, nil
}

func (r *escalationRepository) CountActive() (int, error) {
	var count int
	query := `SELECT count(*) FROM escalation_cases WHERE status NOT IN ('resolved', 'false_positive')`
	if err := r.db.Get(&count, query); err != nil {
		return 0, err
	}
	return count, nil
}
