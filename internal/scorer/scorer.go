// Package scorer turns a signal bundle into a normalized risk score
// and a severity tier. Scoring is a pure function of the bundle and
// the configuration snapshot: no clock, no randomness, no I/O, so the
// same inputs always produce the same result.
package scorer

import (
	"math"

	"crisisengine/internal/config"
	"crisisengine/internal/detector"
	"crisisengine/internal/models"
)

// Weighting strategies. "mean" averages matched rule weights; "max"
// lets the strongest matched rule dominate, mirroring a severity-table
// style lookup. Both are kept selectable because neither is obviously
// the single source of truth for every deployment.
const (
	StrategyMean = "mean"
	StrategyMax  = "max"
)

// Result is one scoring outcome.
type Result struct {
	Score    float64
	Severity models.Severity
	Category string
}

// Scorer applies one configuration snapshot. Build a new Scorer after
// a config reload; never mutate one in place.
type Scorer struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the normalized score and severity for a bundle.
func (s *Scorer) Score(bundle *detector.SignalBundle) Result {
	base := s.baseWeight(bundle)

	if bundle.Sentiment != nil && *bundle.Sentiment < 0 {
		base += math.Abs(*bundle.Sentiment) * s.cfg.Scoring.SentimentFactor
	}

	if n := len(bundle.ContextFactors); n > 0 {
		boost := float64(n) * s.cfg.Scoring.ContextFactorStep
		base += math.Min(boost, s.cfg.Scoring.ContextFactorCap)
	}

	score := math.Min(base, 1.0)

	return Result{
		Score:    score,
		Severity: s.SeverityFor(score),
		Category: bundle.DominantCategory(),
	}
}

func (s *Scorer) baseWeight(bundle *detector.SignalBundle) float64 {
	if len(bundle.Matches) == 0 {
		return 0
	}
	switch s.cfg.Scoring.Strategy {
	case StrategyMax:
		max := 0.0
		for _, m := range bundle.Matches {
			if m.Weight > max {
				max = m.Weight
			}
		}
		return max
	default:
		sum := 0.0
		for _, m := range bundle.Matches {
			sum += m.Weight
		}
		return sum / float64(len(bundle.Matches))
	}
}

// SeverityFor maps a score onto the configured severity bands.
func (s *Scorer) SeverityFor(score float64) models.Severity {
	b := s.cfg.SeverityBands
	switch {
	case score < b.Low:
		return models.SeverityLow
	case score < b.Moderate:
		return models.SeverityModerate
	case score < b.High:
		return models.SeverityHigh
	case score < b.Critical:
		return models.SeverityCritical
	default:
		return models.SeverityImminent
	}
}
