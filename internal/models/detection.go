package models

import (
	"time"

	"github.com/lib/pq"
)

// Severity is the discrete risk tier derived from the normalized score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityImminent Severity = "imminent"
)

// Rank orders severities for threshold comparisons. Unknown severities
// rank below low so they can never trigger an escalation by accident.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityModerate:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	case SeverityImminent:
		return 5
	default:
		return 0
	}
}

// Content source types accepted by the ingestion call.
const (
	SourceChatMessage = "chat_message"
	SourceJournal     = "journal_entry"
	SourceMoodEntry   = "mood_entry"
)

// DetectionEvent represents a row in the 'detection_events' table.
// Core fields (score, severity, matched keywords, excerpt) are immutable
// after insert; only the review fields may be appended later.
type DetectionEvent struct {
	ID               string         `db:"id" json:"id"`
	UserID           int64          `db:"user_id" json:"user_id"`
	SourceType       string         `db:"source_type" json:"source_type"`
	SourceID         string         `db:"source_id" json:"source_id"`
	ExcerptEncrypted string         `db:"excerpt_encrypted" json:"-"`
	Category         string         `db:"category" json:"category"`
	Severity         Severity       `db:"severity" json:"severity"`
	Score            float64        `db:"score" json:"score"` // normalized confidence in [0,1]
	MatchedKeywords  pq.StringArray `db:"matched_keywords" json:"matched_keywords"`
	SentimentScore   *float64       `db:"sentiment_score" json:"sentiment_score,omitempty"`
	ContextFactors   pq.StringArray `db:"context_factors" json:"context_factors,omitempty"`
	FlaggedForReview bool           `db:"flagged_for_review" json:"flagged_for_review"`
	ReviewedBy       *int64         `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time     `db:"reviewed_at" json:"reviewed_at,omitempty"`
	FalsePositive    *bool          `db:"false_positive" json:"false_positive,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}
