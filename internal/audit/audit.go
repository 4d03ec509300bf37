// Package audit emits the append-only audit trail required around
// every case transition and contact attempt. The trail is written as
// JSON lines through a dedicated logrus logger, kept separate from the
// operational zap logger so the audit stream can be shipped to its own
// destination. The record format here is a stable contract with the
// audit subsystem.
package audit

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Sink writes audit records.
type Sink struct {
	log *logrus.Logger
}

// NewSink writes JSON records to path, or stderr when path is empty.
func NewSink(path string) (*Sink, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	log.SetLevel(logrus.InfoLevel)

	var out io.Writer = os.Stderr
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		out = f
	}
	log.SetOutput(out)

	return &Sink{log: log}, nil
}

// CaseTransition records one state machine transition.
func (s *Sink) CaseTransition(caseID string, from, to string, actor string, justification string) {
	s.log.WithFields(logrus.Fields{
		"record":        "case_transition",
		"case_id":       caseID,
		"from_status":   from,
		"to_status":     to,
		"actor":         actor,
		"justification": justification,
	}).Info("case transition")
}

// ContactAttempt records one notification try.
func (s *Sink) ContactAttempt(caseID, attemptID, channel, status string, success bool) {
	s.log.WithFields(logrus.Fields{
		"record":     "contact_attempt",
		"case_id":    caseID,
		"attempt_id": attemptID,
		"channel":    channel,
		"status":     status,
		"success":    success,
	}).Info("contact attempt")
}

// DetectionRecorded records that a detection event was persisted.
func (s *Sink) DetectionRecorded(eventID string, userID int64, severity string, score float64, escalated bool) {
	s.log.WithFields(logrus.Fields{
		"record":    "detection_recorded",
		"event_id":  eventID,
		"user_id":   userID,
		"severity":  severity,
		"score":     score,
		"escalated": escalated,
	}).Info("detection recorded")
}

// SupervisorAlert records an operational alert (persistence failures,
// exhausted contact budgets).
func (s *Sink) SupervisorAlert(caseID, reason string) {
	s.log.WithFields(logrus.Fields{
		"record":  "supervisor_alert",
		"case_id": caseID,
		"reason":  reason,
	}).Warn("supervisor alert")
}
