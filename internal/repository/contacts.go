package repository

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"crisisengine/internal/models"
)

type ContactRepository interface {
	// ClaimAttempt inserts the attempt if and only if no attempt for
	// the same (case, sequence, channel) exists yet. Returns false when
	// the slot was already claimed, which is how a retried dispatch
	// call discovers it must not send again.
	ClaimAttempt(attempt *models.ContactAttempt) (bool, error)
	UpdateStatus(id string, status string, success bool, responseBody *string) error
	GetAttemptsByCase(caseID string) ([]*models.ContactAttempt, error)
	GetAttempt(caseID string, attemptSeq int, channel string) (*models.ContactAttempt, error)
}

type contactRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewContactRepository(db *sqlx.DB, logger *zap.Logger) ContactRepository {
	return &contactRepository{db: db, logger: logger}
}

func (r *contactRepository) ClaimAttempt(attempt *models.ContactAttempt) (bool, error) {
	query := `INSERT INTO contact_attempts (id, case_id, attempt_seq, channel, recipient, status, success)
	          VALUES ($1, $2, $3, $4, $5, $6, false)
	          ON CONFLICT (case_id, attempt_seq, channel) DO NOTHING
	          RETURNING attempted_at, last_status_at`
	err := r.db.QueryRowx(query, attempt.ID, attempt.CaseID, attempt.AttemptSeq, attempt.Channel,
		attempt.Recipient, models.DeliveryPending).Scan(&attempt.AttemptedAt, &attempt.LastStatusAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *contactRepository) UpdateStatus(id string, status string, success bool, responseBody *string) error {
	query := `UPDATE contact_attempts
	          SET status = $1, success = $2, response_body = $3, last_status_at = now()
	          WHERE id = $4`
	_, err := r.db.Exec(query, status, success, responseBody, id)
	return err
}

func (r *contactRepository) GetAttemptsByCase(caseID string) ([]*models.ContactAttempt, error) {
	var attempts []*models.ContactAttempt
	query := `SELECT id, case_id, attempt_seq, channel, recipient, status, success, response_body, attempted_at, last_status_at
	          FROM contact_attempts WHERE case_id = $1 ORDER BY attempt_seq ASC, channel ASC`
	if err := r.db.Select(&attempts, query, caseID); err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *contactRepository) GetAttempt(caseID string, attemptSeq int, channel string) (*models.ContactAttempt, error) {
	var attempt models.ContactAttempt
	query := `SELECT id, case_id, attempt_seq, channel, recipient, status, success, response_body, attempted_at, last_status_at
	          FROM contact_attempts WHERE case_id = $1 AND attempt_seq = $2 AND channel = $3`
	err := r.db.Get(&attempt, query, caseID, attemptSeq, channel)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}
