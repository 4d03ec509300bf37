// Package recorder persists detection events and decides, per event,
// whether the escalation orchestrator gets involved. The event row is
// the immutable record of what was scored; losing one is a safety gap,
// so persistence failures alert a supervisor instead of being retried
// silently.
package recorder

import (
	"context"
	"fmt"
	"hash/fnv"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crisisengine/internal/audit"
	"crisisengine/internal/config"
	"crisisengine/internal/crisiserr"
	"crisisengine/internal/crypto"
	"crisisengine/internal/detector"
	"crisisengine/internal/metrics"
	"crisisengine/internal/models"
	"crisisengine/internal/repository"
	"crisisengine/internal/scorer"
)

// excerptLimit caps how much of the content is kept on the event.
const excerptLimit = 500

// truncateExcerpt cuts the content at limit bytes without splitting a
// multi-byte rune.
func truncateExcerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// CaseOpener creates the escalation case for a qualifying event.
// Satisfied by escalation.Orchestrator.
type CaseOpener interface {
	OpenCase(ctx context.Context, event *models.DetectionEvent) (*models.EscalationCase, error)
}

// Recorder writes detection events and triggers escalation.
type Recorder struct {
	cfg        *config.Store
	detections repository.DetectionRepository
	opener     CaseOpener
	cipher     *crypto.ExcerptCipher
	auditSink  *audit.Sink
	logger     *zap.Logger
}

func New(
	cfg *config.Store,
	detections repository.DetectionRepository,
	opener CaseOpener,
	cipher *crypto.ExcerptCipher,
	auditSink *audit.Sink,
	logger *zap.Logger,
) *Recorder {
	return &Recorder{
		cfg:        cfg,
		detections: detections,
		opener:     opener,
		cipher:     cipher,
		auditSink:  auditSink,
		logger:     logger,
	}
}

// Record persists one scoring pass and, when the severity crosses the
// auto-escalation threshold, synchronously opens the case.
func (r *Recorder) Record(ctx context.Context, sample detector.Sample, bundle *detector.SignalBundle, result scorer.Result) (*models.DetectionEvent, *models.EscalationCase, error) {
	cfg := r.cfg.Current()
	autoThreshold := models.Severity(cfg.Escalation.AutoEscalateSeverity)
	escalate := result.Severity.Rank() >= autoThreshold.Rank()

	event := &models.DetectionEvent{
		ID:              uuid.NewString(),
		UserID:          sample.UserID,
		SourceType:      sample.SourceType,
		SourceID:        sample.SourceID,
		Category:        result.Category,
		Severity:        result.Severity,
		Score:           result.Score,
		MatchedKeywords: bundle.MatchedPhrases(),
		SentimentScore:  sample.Sentiment,
		ContextFactors:  sample.ContextFactors,
		// Escalated events are reviewed through their case; the
		// sampler exists to catch false negatives below the threshold.
		FlaggedForReview: escalate || r.sampled(sample),
	}

	excerpt := truncateExcerpt(sample.Content, excerptLimit)
	encrypted, err := r.cipher.Encrypt(excerpt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt excerpt: %w", err)
	}
	event.ExcerptEncrypted = encrypted

	if err := r.detections.SaveEvent(event); err != nil {
		r.auditSink.SupervisorAlert("", "detection event persistence failed for user "+fmt.Sprint(sample.UserID))
		return nil, nil, fmt.Errorf("%w: %v", crisiserr.ErrPersistence, err)
	}

	metrics.DetectionsTotal.WithLabelValues(string(event.Severity), event.Category).Inc()

	var esc *models.EscalationCase
	if escalate {
		esc, err = r.opener.OpenCase(ctx, event)
		if err != nil && err != crisiserr.ErrDuplicateActiveCase {
			// The event is recorded; a human must pick the case up.
			r.auditSink.SupervisorAlert("", "failed to open case for event "+event.ID)
			r.logger.Error("Failed to open escalation case",
				zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	escalated := esc != nil
	r.auditSink.DetectionRecorded(event.ID, event.UserID, string(event.Severity), event.Score, escalated)
	return event, esc, nil
}

// RecordTimeout is the fail-safe path for a scoring pass that blew its
// time budget: the content is treated as maximum-uncertainty and put
// in front of a human instead of being dropped.
func (r *Recorder) RecordTimeout(ctx context.Context, sample detector.Sample) (*models.DetectionEvent, *models.EscalationCase, error) {
	metrics.ScoringTimeouts.Inc()

	event := &models.DetectionEvent{
		ID:               uuid.NewString(),
		UserID:           sample.UserID,
		SourceType:       sample.SourceType,
		SourceID:         sample.SourceID,
		Severity:         models.SeverityModerate,
		Score:            0.5, // maximum uncertainty
		SentimentScore:   sample.Sentiment,
		ContextFactors:   sample.ContextFactors,
		MatchedKeywords:  nil,
		FlaggedForReview: true,
	}

	excerpt := truncateExcerpt(sample.Content, excerptLimit)
	encrypted, err := r.cipher.Encrypt(excerpt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt excerpt: %w", err)
	}
	event.ExcerptEncrypted = encrypted

	if err := r.detections.SaveEvent(event); err != nil {
		r.auditSink.SupervisorAlert("", "timeout fallback persistence failed for user "+fmt.Sprint(sample.UserID))
		return nil, nil, fmt.Errorf("%w: %v", crisiserr.ErrPersistence, err)
	}

	// Escalate to review regardless of the fallback severity: the
	// whole point of the fail-safe is a human looking at it.
	esc, err := r.opener.OpenCase(ctx, event)
	if err != nil && err != crisiserr.ErrDuplicateActiveCase {
		r.logger.Error("Failed to open case for timeout fallback",
			zap.String("event_id", event.ID), zap.Error(err))
	}

	r.auditSink.DetectionRecorded(event.ID, event.UserID, string(event.Severity), event.Score, esc != nil)
	r.logger.Warn("Scoring timed out, recorded maximum-uncertainty event",
		zap.String("event_id", event.ID),
		zap.Int64("user_id", sample.UserID))
	return event, esc, nil
}

// sampled picks the review-sampling subset deterministically, keyed on
// the source identity, so replaying an ingest stream flags the same
// events.
func (r *Recorder) sampled(sample detector.Sample) bool {
	rate := r.cfg.Current().Escalation.ReviewSampleRate
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	h := fnv.New32a()
	fmt.Fprintf(h, "%d/%s/%s", sample.UserID, sample.SourceType, sample.SourceID)
	return float64(h.Sum32())/float64(^uint32(0)) < rate
}
