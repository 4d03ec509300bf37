// Package channels holds the notification channel implementations.
// Every delivery collaborator, whatever its transport, satisfies the
// one Channel contract so the dispatcher can treat them uniformly.
package channels

import (
	"context"

	"crisisengine/internal/models"
)

// Message is one logical notification to deliver.
type Message struct {
	CaseID    string                   `json:"case_id"`
	UserID    int64                    `json:"user_id"`
	Severity  string                   `json:"severity"`
	Subject   string                   `json:"subject"`
	Body      string                   `json:"body"`
	Resources []*models.CrisisResource `json:"resources,omitempty"`
}

// Channel sends a message to one recipient over one transport.
// Implementations return the delivery status reported by the
// collaborator ("sent" or "delivered"); an error means "failed".
type Channel interface {
	Name() string
	Send(ctx context.Context, recipient string, msg Message) (string, error)
}
