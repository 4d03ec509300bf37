package models

import "time"

// AnalyticsSnapshot represents a row in the 'analytics_snapshots' table.
// Write-once per (period_start, period_end) window.
type AnalyticsSnapshot struct {
	ID                 int64     `db:"id" json:"id"`
	PeriodStart        time.Time `db:"period_start" json:"period_start"`
	PeriodEnd          time.Time `db:"period_end" json:"period_end"`
	TotalDetections    int       `db:"total_detections" json:"total_detections"`
	TotalEscalations   int       `db:"total_escalations" json:"total_escalations"`
	TruePositives      int       `db:"true_positives" json:"true_positives"`
	FalsePositives     int       `db:"false_positives" json:"false_positives"`
	FalseNegatives     int       `db:"false_negatives" json:"false_negatives"`
	Precision          float64   `db:"precision" json:"precision"`
	Recall             float64   `db:"recall" json:"recall"`
	F1Score            float64   `db:"f1_score" json:"f1_score"`
	AvgResponseSecs    float64   `db:"avg_response_secs" json:"avg_response_secs"`
	AvgResolutionSecs  float64   `db:"avg_resolution_secs" json:"avg_resolution_secs"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// RuleRecommendation is a suggested weight adjustment for one rule,
// derived from reviewer outcomes. Never auto-applied; a curator reviews
// and edits the rule explicitly.
type RuleRecommendation struct {
	RuleID            int64   `json:"rule_id"`
	Phrase            string  `json:"phrase"`
	Category          string  `json:"category"`
	CurrentWeight     float64 `json:"current_weight"`
	RecommendedWeight float64 `json:"recommended_weight"`
	Matches           int     `json:"matches"`
	FalsePositives    int     `json:"false_positives"`
	Reason            string  `json:"reason"`
}
