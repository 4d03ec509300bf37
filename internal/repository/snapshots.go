package repository

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"crisisengine/internal/models"
)

type SnapshotRepository interface {
	// SaveSnapshot is write-once per period: a snapshot for an already
	// recorded window is dropped, not overwritten.
	SaveSnapshot(snap *models.AnalyticsSnapshot) (bool, error)
	GetSnapshots(limit int) ([]*models.AnalyticsSnapshot, error)
	GetLatestSnapshot() (*models.AnalyticsSnapshot, error)
}

type snapshotRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSnapshotRepository(db *sqlx.DB, logger *zap.Logger) SnapshotRepository {
	return &snapshotRepository{db: db, logger: logger}
}

const snapshotColumns = `id, period_start, period_end, total_detections, total_escalations, true_positives,
	false_positives, false_negatives, precision, recall, f1_score, avg_response_secs, avg_resolution_secs, created_at`

func (r *snapshotRepository) SaveSnapshot(snap *models.AnalyticsSnapshot) (bool, error) {
	query := `INSERT INTO analytics_snapshots
	          (period_start, period_end, total_detections, total_escalations, true_positives, false_positives,
	           false_negatives, precision, recall, f1_score, avg_response_secs, avg_resolution_secs)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	          ON CONFLICT (period_start, period_end) DO NOTHING
	          RETURNING id, created_at`
	err := r.db.QueryRowx(query,
		snap.PeriodStart, snap.PeriodEnd, snap.TotalDetections, snap.TotalEscalations,
		snap.TruePositives, snap.FalsePositives, snap.FalseNegatives,
		snap.Precision, snap.Recall, snap.F1Score, snap.AvgResponseSecs, snap.AvgResolutionSecs,
	).Scan(&snap.ID, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *snapshotRepository) GetSnapshots(limit int) ([]*models.AnalyticsSnapshot, error) {
	var snaps []*models.AnalyticsSnapshot
	query := `SELECT ` + snapshotColumns + ` FROM analytics_snapshots ORDER BY period_end DESC LIMIT $1`
	if err := r.db.Select(&snaps, query, limit); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (r *snapshotRepository) GetLatestSnapshot() (*models.AnalyticsSnapshot, error) {
	var snap models.AnalyticsSnapshot
	query := `SELECT ` + snapshotColumns + ` FROM analytics_snapshots ORDER BY period_end DESC LIMIT 1`
	err := r.db.Get(&snap, query)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}
