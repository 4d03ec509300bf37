package models

import "time"

// Crisis categories a rule can signal.
const (
	CategorySuicidalIdeation = "suicidal_ideation"
	CategorySelfHarm         = "self_harm"
	CategoryPanicAttack      = "panic_attack"
	CategoryDomesticViolence = "domestic_violence"
	CategorySubstanceAbuse   = "substance_abuse"
	CategoryEatingDisorder   = "eating_disorder"
)

// KeywordRule represents a row in the 'keyword_rules' table.
// Rules are soft-deactivated, never deleted: detection events reference
// the rule state that was live at match time.
type KeywordRule struct {
	ID              int64      `db:"id" json:"id"`
	Phrase          string     `db:"phrase" json:"phrase"`
	Category        string     `db:"category" json:"category"`
	Weight          float64    `db:"weight" json:"weight"` // must be in (0, 1]
	IsRegex         bool       `db:"is_regex" json:"is_regex"`
	CaseSensitive   bool       `db:"case_sensitive" json:"case_sensitive"`
	WordBoundary    bool       `db:"word_boundary" json:"word_boundary"`
	ContextRequired bool       `db:"context_required" json:"context_required"`
	Active          bool       `db:"active" json:"active"`
	CreatedBy       string     `db:"created_by" json:"created_by"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	DeactivatedAt   *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
}
