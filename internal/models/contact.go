package models

import "time"

// Delivery status of a contact attempt.
const (
	DeliveryPending   = "pending"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Notification channel names. Each maps to a Channel implementation.
const (
	ChannelAppPush   = "app_push"
	ChannelSMS       = "sms"
	ChannelEmail     = "email"
	ChannelPhoneCall = "phone_call"
	ChannelTelegram  = "telegram"
)

// ContactAttempt represents a row in the 'contact_attempts' table.
// Append-only. The (case_id, attempt_seq, channel) uniqueness constraint
// is what makes dispatch retries idempotent.
type ContactAttempt struct {
	ID             string    `db:"id" json:"id"`
	CaseID         string    `db:"case_id" json:"case_id"`
	AttemptSeq     int       `db:"attempt_seq" json:"attempt_seq"`
	Channel        string    `db:"channel" json:"channel"`
	Recipient      string    `db:"recipient" json:"recipient"`
	Status         string    `db:"status" json:"status"`
	Success        bool      `db:"success" json:"success"`
	ResponseBody   *string   `db:"response_body" json:"response_body,omitempty"`
	AttemptedAt    time.Time `db:"attempted_at" json:"attempted_at"`
	LastStatusAt   time.Time `db:"last_status_at" json:"last_status_at"`
}
