package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Reviewer represents a crisis-response staff member in the 'reviewers'
// table. Caseload and response-time fields drive least-loaded assignment.
type Reviewer struct {
	ID              int64     `db:"id" json:"id"`
	Username        string    `db:"username" json:"username"`
	PasswordHash    string    `db:"password_hash" json:"-"`
	Role            string    `db:"role" json:"role"` // "reviewer", "supervisor" or "curator"
	Available       bool      `db:"available" json:"available"`
	OpenCaseCount   int       `db:"open_case_count" json:"open_case_count"`
	AvgResponseSecs float64   `db:"avg_response_secs" json:"avg_response_secs"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Claims defines the structure of the JWT claims issued to reviewers.
type Claims struct {
	ReviewerID int64  `json:"reviewer_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}
