// Package analytics folds reviewer outcomes over a rolling window into
// precision/recall snapshots and rule-weight recommendations.
// Recommendations are surfaced to curators, never applied automatically.
package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"crisisengine/internal/config"
	"crisisengine/internal/models"
	"crisisengine/internal/repository"
)

// Aggregator computes periodic snapshots.
type Aggregator struct {
	cfg        *config.Store
	detections repository.DetectionRepository
	cases      repository.EscalationRepository
	snapshots  repository.SnapshotRepository
	rules      repository.RuleRepository
	logger     *zap.Logger
}

func New(
	cfg *config.Store,
	detections repository.DetectionRepository,
	cases repository.EscalationRepository,
	snapshots repository.SnapshotRepository,
	rules repository.RuleRepository,
	logger *zap.Logger,
) *Aggregator {
	return &Aggregator{
		cfg:        cfg,
		detections: detections,
		cases:      cases,
		snapshots:  snapshots,
		rules:      rules,
		logger:     logger,
	}
}

// Run computes a snapshot on the configured interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	interval := a.cfg.Current().Analytics.Interval.Std()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("Analytics aggregator started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Analytics aggregator stopped.")
			return
		case <-ticker.C:
			if _, err := a.ComputeSnapshot(time.Now().UTC()); err != nil {
				a.logger.Error("Snapshot computation failed", zap.Error(err))
			}
		}
	}
}

// ComputeSnapshot aggregates the window ending at asOf and persists
// the result. Write-once: recomputing an already stored window is a
// no-op.
func (a *Aggregator) ComputeSnapshot(asOf time.Time) (*models.AnalyticsSnapshot, error) {
	cfg := a.cfg.Current()
	end := asOf.Truncate(time.Hour)
	start := end.AddDate(0, 0, -cfg.Analytics.WindowDays)

	events, err := a.detections.GetEventsInWindow(start, end)
	if err != nil {
		return nil, err
	}
	cases, err := a.cases.GetCasesInWindow(start, end)
	if err != nil {
		return nil, err
	}

	escalatedEvents := make(map[string]bool, len(cases))
	for _, c := range cases {
		escalatedEvents[c.DetectionEventID] = true
	}

	snap := &models.AnalyticsSnapshot{
		PeriodStart:      start,
		PeriodEnd:        end,
		TotalDetections:  len(events),
		TotalEscalations: len(cases),
	}

	// Reviewer outcomes classify each reviewed event: a confirmed
	// escalation is a true positive, a dismissed one a false positive,
	// and a sampled low-severity event a reviewer flags as real risk
	// is a false negative the threshold missed.
	for _, e := range events {
		if e.FalsePositive == nil {
			continue
		}
		switch {
		case escalatedEvents[e.ID] && !*e.FalsePositive:
			snap.TruePositives++
		case escalatedEvents[e.ID] && *e.FalsePositive:
			snap.FalsePositives++
		case !escalatedEvents[e.ID] && !*e.FalsePositive:
			snap.FalseNegatives++
		}
	}

	if snap.TruePositives+snap.FalsePositives > 0 {
		snap.Precision = float64(snap.TruePositives) / float64(snap.TruePositives+snap.FalsePositives)
	}
	if snap.TruePositives+snap.FalseNegatives > 0 {
		snap.Recall = float64(snap.TruePositives) / float64(snap.TruePositives+snap.FalseNegatives)
	}
	if snap.Precision+snap.Recall > 0 {
		snap.F1Score = 2 * snap.Precision * snap.Recall / (snap.Precision + snap.Recall)
	}

	var responseSum, resolutionSum float64
	var responseN, resolutionN int
	for _, c := range cases {
		if rt := c.ResponseTime(); rt != nil {
			responseSum += rt.Seconds()
			responseN++
		}
		if rt := c.ResolutionTime(); rt != nil {
			resolutionSum += rt.Seconds()
			resolutionN++
		}
	}
	if responseN > 0 {
		snap.AvgResponseSecs = responseSum / float64(responseN)
	}
	if resolutionN > 0 {
		snap.AvgResolutionSecs = resolutionSum / float64(resolutionN)
	}

	inserted, err := a.snapshots.SaveSnapshot(snap)
	if err != nil {
		return nil, err
	}
	if !inserted {
		a.logger.Debug("Snapshot window already recorded",
			zap.Time("period_start", start), zap.Time("period_end", end))
		return snap, nil
	}

	a.logger.Info("Analytics snapshot recorded",
		zap.Int("detections", snap.TotalDetections),
		zap.Int("escalations", snap.TotalEscalations),
		zap.Float64("precision", snap.Precision),
		zap.Float64("recall", snap.Recall))
	return snap, nil
}

// ruleStats tracks per-phrase outcomes within the window.
type ruleStats struct {
	matches        int
	falsePositives int
}

// Recommendations derives rule-weight adjustments from the window's
// reviewer outcomes. A rule matched mostly in dismissed detections
// gets a weight cut suggestion; one showing up in missed crises gets a
// raise suggestion.
func (a *Aggregator) Recommendations(asOf time.Time) ([]*models.RuleRecommendation, error) {
	cfg := a.cfg.Current()
	end := asOf.Truncate(time.Hour)
	start := end.AddDate(0, 0, -cfg.Analytics.WindowDays)

	events, err := a.detections.GetEventsInWindow(start, end)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]*ruleStats)
	missed := make(map[string]int)
	for _, e := range events {
		fp := e.FalsePositive != nil && *e.FalsePositive
		fn := e.FalsePositive != nil && !*e.FalsePositive && e.Severity.Rank() <= models.SeverityModerate.Rank()
		for _, phrase := range e.MatchedKeywords {
			s, ok := stats[phrase]
			if !ok {
				s = &ruleStats{}
				stats[phrase] = s
			}
			s.matches++
			if fp {
				s.falsePositives++
			}
			if fn {
				missed[phrase]++
			}
		}
	}

	rules, err := a.rules.GetActiveRules()
	if err != nil {
		return nil, err
	}

	var recs []*models.RuleRecommendation
	for _, rule := range rules {
		s := stats[rule.Phrase]
		if s == nil || s.matches < 5 {
			continue // not enough evidence to recommend anything
		}
		fpRate := float64(s.falsePositives) / float64(s.matches)
		switch {
		case fpRate > 0.5:
			recommended := rule.Weight * 0.8
			if recommended < 0.05 {
				recommended = 0.05
			}
			recs = append(recs, &models.RuleRecommendation{
				RuleID:            rule.ID,
				Phrase:            rule.Phrase,
				Category:          rule.Category,
				CurrentWeight:     rule.Weight,
				RecommendedWeight: recommended,
				Matches:           s.matches,
				FalsePositives:    s.falsePositives,
				Reason:            "high false-positive rate in review outcomes",
			})
		case missed[rule.Phrase] >= 3 && rule.Weight < 1.0:
			recommended := rule.Weight * 1.2
			if recommended > 1.0 {
				recommended = 1.0
			}
			recs = append(recs, &models.RuleRecommendation{
				RuleID:            rule.ID,
				Phrase:            rule.Phrase,
				Category:          rule.Category,
				CurrentWeight:     rule.Weight,
				RecommendedWeight: recommended,
				Matches:           s.matches,
				FalsePositives:    s.falsePositives,
				Reason:            "appears in reviewer-confirmed crises scored below threshold",
			})
		}
	}
	return recs, nil
}
