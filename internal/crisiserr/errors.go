// Package crisiserr defines the sentinel errors shared across the
// detection and escalation pipeline. Failures that could leave a crisis
// unhandled must never surface as plain errors to be dropped: callers
// are expected to map them to the conservative fallback actions wired
// into the recorder and orchestrator.
package crisiserr

import "errors"

var (
	// Ingestion.
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyContent    = errors.New("empty content")
	ErrContentTooLarge = errors.New("content exceeds maximum length")

	// Scoring.
	ErrRuleEvaluation = errors.New("rule evaluation failed")
	ErrScoringTimeout = errors.New("scoring timed out")

	// Escalation.
	ErrCaseNotFound        = errors.New("escalation case not found")
	ErrInvalidTransition   = errors.New("invalid case transition")
	ErrDuplicateActiveCase = errors.New("active case already exists for detection event")
	ErrAssignmentFailure   = errors.New("no reviewer available for assignment")
	ErrOutcomeRequired     = errors.New("resolution requires a user_safe outcome")

	// Delivery.
	ErrDeliveryFailure = errors.New("notification delivery failed")
	ErrChannelNotFound = errors.New("notification channel not configured")

	// Persistence. A dropped detection event is a safety gap, so this
	// is treated as fatal by the recorder and alerts a supervisor.
	ErrPersistence = errors.New("persistence failure")
)
