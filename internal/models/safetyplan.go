package models

import "time"

// SafetyPlan is a user-authored coping plan. Cases reference plans by id
// for reviewer context; this service never owns or edits them.
type SafetyPlan struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"user_id"`
	WarningSigns     string    `db:"warning_signs" json:"warning_signs"`
	CopingStrategies string    `db:"coping_strategies" json:"coping_strategies"`
	EmergencyContact string    `db:"emergency_contact" json:"emergency_contact"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
