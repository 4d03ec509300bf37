package models

import "time"

// CaseStatus is the escalation state machine's state set.
type CaseStatus string

const (
	StatusDetected                CaseStatus = "detected"
	StatusUnderReview             CaseStatus = "under_review"
	StatusEscalated               CaseStatus = "escalated"
	StatusContactedUser           CaseStatus = "contacted_user"
	StatusEmergencyServicesCalled CaseStatus = "emergency_services_called"
	StatusResolved                CaseStatus = "resolved"
	StatusFalsePositive           CaseStatus = "false_positive"
)

// Terminal reports whether the status ends the case's lifecycle.
func (s CaseStatus) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// EscalationCase represents a row in the 'escalation_cases' table.
// At most one non-terminal case may exist per detection event; the
// partial unique index in the schema enforces that, not this code.
type EscalationCase struct {
	ID                  string     `db:"id" json:"id"`
	DetectionEventID    string     `db:"detection_event_id" json:"detection_event_id"`
	UserID              int64      `db:"user_id" json:"user_id"`
	Severity            Severity   `db:"severity" json:"severity"`
	Status              CaseStatus `db:"status" json:"status"`
	EscalationLevel     int        `db:"escalation_level" json:"escalation_level"` // monotonically non-decreasing
	AssignedReviewerID  *int64     `db:"assigned_reviewer_id" json:"assigned_reviewer_id,omitempty"`
	ContactAttemptCount int        `db:"contact_attempt_count" json:"contact_attempt_count"`
	SafetyPlanID        *int64     `db:"safety_plan_id" json:"safety_plan_id,omitempty"`
	UserSafe            *bool      `db:"user_safe" json:"user_safe,omitempty"`
	Outcome             *string    `db:"outcome" json:"outcome,omitempty"`
	Justification       *string    `db:"justification" json:"justification,omitempty"`
	FirstResponseAt     *time.Time `db:"first_response_at" json:"first_response_at,omitempty"`
	ResolvedAt          *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// ResponseTime is the wall clock from case creation to the first
// under_review -> escalated transition, used for SLA reporting.
func (c *EscalationCase) ResponseTime() *time.Duration {
	if c.FirstResponseAt == nil {
		return nil
	}
	d := c.FirstResponseAt.Sub(c.CreatedAt)
	return &d
}

// ResolutionTime is the wall clock from case creation to resolution.
func (c *EscalationCase) ResolutionTime() *time.Duration {
	if c.ResolvedAt == nil {
		return nil
	}
	d := c.ResolvedAt.Sub(c.CreatedAt)
	return &d
}

// CaseTransition represents a row in the 'case_transitions' event log.
// The log is append-only and replayable: every recorded transition must
// be a member of the allowed transition set.
type CaseTransition struct {
	ID            int64      `db:"id" json:"id"`
	CaseID        string     `db:"case_id" json:"case_id"`
	FromStatus    CaseStatus `db:"from_status" json:"from_status"`
	ToStatus      CaseStatus `db:"to_status" json:"to_status"`
	Actor         string     `db:"actor" json:"actor"` // "system" or reviewer identifier
	Justification *string    `db:"justification" json:"justification,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}
