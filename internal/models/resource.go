package models

// CrisisResource represents a row in the read-only 'crisis_resources'
// directory (hotlines, text lines, shelters).
type CrisisResource struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	CrisisType  string `db:"crisis_type" json:"crisis_type"`
	Locale      string `db:"locale" json:"locale"`
	Phone       string `db:"phone" json:"phone,omitempty"`
	TextLine    string `db:"text_line" json:"text_line,omitempty"`
	URL         string `db:"url" json:"url,omitempty"`
	Description string `db:"description" json:"description,omitempty"`
	Available   bool   `db:"available" json:"available"`
}
