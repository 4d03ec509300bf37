// Package dispatcher fans one logical notification out across the
// configured channels and records a ContactAttempt per channel. A
// channel failing never blocks the others, and the (case, attempt,
// channel) claim in the contact_attempts table makes redelivery of an
// already-successful attempt impossible even when the dispatch call
// itself is retried.
package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crisisengine/internal/audit"
	"crisisengine/internal/channels"
	"crisisengine/internal/crisiserr"
	"crisisengine/internal/config"
	"crisisengine/internal/metrics"
	"crisisengine/internal/models"
	"crisisengine/internal/repository"
)

const defaultLocale = "en-US"

// Dispatcher implements escalation.Dispatcher.
type Dispatcher struct {
	cfg        *config.Store
	userChans  []channels.Channel
	staffChan  channels.Channel // may be nil
	contacts   repository.ContactRepository
	detections repository.DetectionRepository
	resources  repository.ResourceRepository
	auditSink  *audit.Sink
	logger     *zap.Logger
}

func New(
	cfg *config.Store,
	userChans []channels.Channel,
	staffChan channels.Channel,
	contacts repository.ContactRepository,
	detections repository.DetectionRepository,
	resources repository.ResourceRepository,
	auditSink *audit.Sink,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		userChans:  userChans,
		staffChan:  staffChan,
		contacts:   contacts,
		detections: detections,
		resources:  resources,
		auditSink:  auditSink,
		logger:     logger,
	}
}

// DispatchRound tries every user-facing channel once for this attempt
// sequence. Returns true when at least one channel got through, now or
// on a previous run of the same sequence.
func (d *Dispatcher) DispatchRound(ctx context.Context, esc *models.EscalationCase, attemptSeq int) (bool, error) {
	msg, err := d.buildMessage(esc)
	if err != nil {
		return false, err
	}

	recipient := "user:" + strconv.FormatInt(esc.UserID, 10)
	anySuccess := false
	sendFailures := 0

	for _, ch := range d.userChans {
		ok, err := d.sendOne(ctx, ch, esc, attemptSeq, recipient, msg)
		if err != nil {
			sendFailures++
			d.logger.Warn("Channel delivery failed",
				zap.String("case_id", esc.ID),
				zap.String("channel", ch.Name()),
				zap.Int("attempt", attemptSeq),
				zap.Error(err))
		}
		if ok {
			anySuccess = true
		}
	}

	if !anySuccess && sendFailures > 0 {
		return false, fmt.Errorf("%w: %d of %d channels", crisiserr.ErrDeliveryFailure, sendFailures, len(d.userChans))
	}
	return anySuccess, nil
}

// sendOne claims and executes one (case, attempt, channel) slot.
func (d *Dispatcher) sendOne(ctx context.Context, ch channels.Channel, esc *models.EscalationCase, attemptSeq int, recipient string, msg channels.Message) (bool, error) {
	attempt := &models.ContactAttempt{
		ID:         uuid.NewString(),
		CaseID:     esc.ID,
		AttemptSeq: attemptSeq,
		Channel:    ch.Name(),
		Recipient:  recipient,
	}

	claimed, err := d.contacts.ClaimAttempt(attempt)
	if err != nil {
		return false, err
	}
	if !claimed {
		// The slot exists from an earlier run of this round. Honor its
		// outcome instead of sending again.
		existing, err := d.contacts.GetAttempt(esc.ID, attemptSeq, ch.Name())
		if err != nil {
			return false, err
		}
		if existing != nil && existing.Success {
			return true, nil
		}
		return false, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	status, sendErr := ch.Send(sendCtx, recipient, msg)
	cancel()

	if sendErr != nil {
		if err := d.contacts.UpdateStatus(attempt.ID, models.DeliveryFailed, false, strptr(sendErr.Error())); err != nil {
			d.logger.Error("Failed to record attempt failure", zap.Error(err))
		}
		metrics.ContactAttempts.WithLabelValues(ch.Name(), models.DeliveryFailed).Inc()
		d.auditSink.ContactAttempt(esc.ID, attempt.ID, ch.Name(), models.DeliveryFailed, false)
		return false, sendErr
	}

	if err := d.contacts.UpdateStatus(attempt.ID, status, true, nil); err != nil {
		d.logger.Error("Failed to record attempt success", zap.Error(err))
	}
	metrics.ContactAttempts.WithLabelValues(ch.Name(), status).Inc()
	d.auditSink.ContactAttempt(esc.ID, attempt.ID, ch.Name(), status, true)
	return true, nil
}

// AlertSupervisor pushes an out-of-band alert to the staff channel.
func (d *Dispatcher) AlertSupervisor(ctx context.Context, esc *models.EscalationCase, reason string) error {
	if d.staffChan == nil {
		d.logger.Warn("No staff channel configured, supervisor alert only audited",
			zap.String("case_id", esc.ID),
			zap.String("reason", reason))
		return crisiserr.ErrChannelNotFound
	}

	msg := channels.Message{
		CaseID:   esc.ID,
		UserID:   esc.UserID,
		Severity: string(esc.Severity),
		Subject:  "Supervisor attention required",
		Body:     fmt.Sprintf("Case %s (severity %s, level %d): %s", esc.ID, esc.Severity, esc.EscalationLevel, reason),
	}

	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := d.staffChan.Send(sendCtx, "", msg); err != nil {
		return fmt.Errorf("%w: %v", crisiserr.ErrDeliveryFailure, err)
	}
	return nil
}

// buildMessage assembles the supportive outreach message, with the
// resource directory entries for the detection's crisis category.
func (d *Dispatcher) buildMessage(esc *models.EscalationCase) (channels.Message, error) {
	msg := channels.Message{
		CaseID:   esc.ID,
		UserID:   esc.UserID,
		Severity: string(esc.Severity),
		Subject:  "We're here for you",
		Body: "It sounds like you might be going through a difficult moment. " +
			"You don't have to face this alone. Support is available right now, " +
			"and a member of our care team is reaching out to you.",
	}

	event, err := d.detections.GetEventByID(esc.DetectionEventID)
	if err != nil {
		return msg, err
	}
	if event == nil || event.Category == "" {
		return msg, nil
	}

	resources, err := d.resources.GetResources(event.Category, defaultLocale)
	if err != nil {
		// Missing directory entries must not stop the outreach itself.
		d.logger.Warn("Resource lookup failed",
			zap.String("case_id", esc.ID),
			zap.String("category", event.Category),
			zap.Error(err))
		return msg, nil
	}
	msg.Resources = resources
	return msg, nil
}

func strptr(s string) *string { return &s }
