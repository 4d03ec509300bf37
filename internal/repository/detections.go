package repository

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"crisisengine/internal/models"
)

type DetectionRepository interface {
	SaveEvent(event *models.DetectionEvent) error
	GetEventByID(id string) (*models.DetectionEvent, error)
	MarkReviewed(id string, reviewerID int64, falsePositive bool) error
	GetFlaggedForReview(limit int) ([]*models.DetectionEvent, error)
	GetEventsInWindow(from, to time.Time) ([]*models.DetectionEvent, error)
}

type detectionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewDetectionRepository(db *sqlx.DB, logger *zap.Logger) DetectionRepository {
	return &detectionRepository{db: db, logger: logger}
}

const detectionColumns = `id, user_id, source_type, source_id, excerpt_encrypted, category, severity, score,
	matched_keywords, sentiment_score, context_factors, flagged_for_review, reviewed_by, reviewed_at,
	false_positive, created_at`

func (r *detectionRepository) SaveEvent(event *models.DetectionEvent) error {
	query := `INSERT INTO detection_events
	          (id, user_id, source_type, source_id, excerpt_encrypted, category, severity, score,
	           matched_keywords, sentiment_score, context_factors, flagged_for_review)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	          RETURNING created_at`
	return r.db.QueryRowx(query,
		event.ID, event.UserID, event.SourceType, event.SourceID, event.ExcerptEncrypted,
		event.Category, event.Severity, event.Score, event.MatchedKeywords,
		event.SentimentScore, event.ContextFactors, event.FlaggedForReview,
	).Scan(&event.CreatedAt)
}

func (r *detectionRepository) GetEventByID(id string) (*models.DetectionEvent, error) {
	var event models.DetectionEvent
	query := `SELECT ` + detectionColumns + ` FROM detection_events WHERE id = $1`
	err := r.db.Get(&event, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// MarkReviewed appends review fields only. Core detection fields are
// immutable after insert and this statement deliberately cannot touch
// them.
func (r *detectionRepository) MarkReviewed(id string, reviewerID int64, falsePositive bool) error {
	query := `UPDATE detection_events
	          SET reviewed_by = $1, reviewed_at = now(), false_positive = $2
	          WHERE id = $3`
	_, err := r.db.Exec(query, reviewerID, falsePositive, id)
	return err
}

func (r *detectionRepository) GetFlaggedForReview(limit int) ([]*models.DetectionEvent, error) {
	var events []*models.DetectionEvent
	query := `SELECT ` + detectionColumns + ` FROM detection_events
	          WHERE flagged_for_review = true AND reviewed_at IS NULL
	          ORDER BY created_at ASC LIMIT $1`
	if err := r.db.Select(&events, query, limit); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *detectionRepository) GetEventsInWindow(from, to time.Time) ([]*models.DetectionEvent, error) {
	var events []*models.DetectionEvent
	query := `SELECT ` + detectionColumns + ` FROM detection_events
	          WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`
	if err := r.db.Select(&events, query, from, to); err != nil {
		return nil, err
	}
	return events, nil
}
