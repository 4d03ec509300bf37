// Package detector scans content samples against the active rule
// snapshot and folds in the auxiliary signals (sentiment, context
// factors) supplied by the caller. Extraction never mutates the rule
// library and never fails a request over a single bad rule.
package detector

import (
	"strings"

	"go.uber.org/zap"

	"crisisengine/internal/rules"
)

// Sample is one piece of content to scan, with its source metadata.
type Sample struct {
	UserID         int64
	SourceType     string
	SourceID       string
	Content        string
	Sentiment      *float64 // precomputed by the ingestion collaborator, in [-1,1]
	ContextFactors []string
}

// RuleMatch records one matched rule and the weight it contributes.
type RuleMatch struct {
	RuleID   int64
	Phrase   string
	Category string
	Weight   float64
}

// SignalBundle is the transient output of one extraction pass. It is
// never persisted as its own record; the scorer consumes it and the
// recorder keeps only the derived fields.
type SignalBundle struct {
	RuleVersion    int64
	Matches        []RuleMatch
	Sentiment      *float64
	ContextFactors []string
}

// MatchedPhrases returns the phrases of all matched rules, in match order.
func (b *SignalBundle) MatchedPhrases() []string {
	phrases := make([]string, 0, len(b.Matches))
	for _, m := range b.Matches {
		phrases = append(phrases, m.Phrase)
	}
	return phrases
}

// DominantCategory returns the category carrying the most matched
// weight, or empty when nothing matched.
func (b *SignalBundle) DominantCategory() string {
	totals := make(map[string]float64, 4)
	for _, m := range b.Matches {
		totals[m.Category] += m.Weight
	}
	best, bestWeight := "", 0.0
	for category, weight := range totals {
		if weight > bestWeight || (weight == bestWeight && (best == "" || category < best)) {
			best, bestWeight = category, weight
		}
	}
	return best
}

// Extractor runs samples against rule snapshots.
type Extractor struct {
	logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract tests every rule in the snapshot against the sample.
// Context-required rules only count when the caller supplied at least
// one context factor; their matches are dropped silently otherwise.
func (e *Extractor) Extract(snap *rules.Snapshot, sample Sample) *SignalBundle {
	bundle := &SignalBundle{
		RuleVersion:    snap.Version,
		Sentiment:      sample.Sentiment,
		ContextFactors: sample.ContextFactors,
	}

	lowered := strings.ToLower(sample.Content)
	for _, rule := range snap.Rules() {
		if !rule.Matches(sample.Content, lowered) {
			continue
		}
		if rule.Rule.ContextRequired && len(sample.ContextFactors) == 0 {
			e.logger.Debug("Dropping context-required match without context",
				zap.Int64("rule_id", rule.Rule.ID),
				zap.Int64("user_id", sample.UserID))
			continue
		}
		bundle.Matches = append(bundle.Matches, RuleMatch{
			RuleID:   rule.Rule.ID,
			Phrase:   rule.Rule.Phrase,
			Category: rule.Rule.Category,
			Weight:   rule.Rule.Weight,
		})
	}

	return bundle
}
