// Package rules holds the weighted keyword/pattern rules that drive
// signal extraction. The library is read on every scoring call and
// updated rarely, so it hands out immutable compiled snapshots and
// swaps them atomically on reload. In-flight scoring always sees one
// consistent snapshot.
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"crisisengine/internal/crisiserr"
	"crisisengine/internal/metrics"
	"crisisengine/internal/models"
)

// CompiledRule is one active rule with its matcher prebuilt.
type CompiledRule struct {
	Rule    models.KeywordRule
	pattern *regexp.Regexp
	literal string // lowercase form for plain substring rules
}

// Matches tests content against the rule. Content has already been
// lowercased once by the caller when the rule is case-insensitive.
func (r *CompiledRule) Matches(content, loweredContent string) bool {
	if r.pattern != nil {
		return r.pattern.MatchString(content)
	}
	if r.Rule.CaseSensitive {
		return strings.Contains(content, r.Rule.Phrase)
	}
	return strings.Contains(loweredContent, r.literal)
}

// Snapshot is an immutable compiled view of the active rule set.
type Snapshot struct {
	Version int64
	rules   []*CompiledRule
}

// Rules returns the compiled rules in the snapshot.
func (s *Snapshot) Rules() []*CompiledRule {
	return s.rules
}

// Len reports the number of compiled rules.
func (s *Snapshot) Len() int {
	return len(s.rules)
}

// Source supplies active rules, typically the keyword_rules repository.
type Source interface {
	GetActiveRules() ([]*models.KeywordRule, error)
}

// Library owns the current snapshot.
type Library struct {
	source  Source
	current atomic.Pointer[Snapshot]
	version atomic.Int64
	logger  *zap.Logger
}

// NewLibrary builds a library and loads the initial snapshot.
func NewLibrary(source Source, logger *zap.Logger) (*Library, error) {
	l := &Library{source: source, logger: logger}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Current returns the active snapshot. Never nil after NewLibrary.
func (l *Library) Current() *Snapshot {
	return l.current.Load()
}

// Reload fetches active rules, compiles them and swaps the snapshot.
// A rule that fails to compile is skipped and logged, never fatal: one
// bad curator regex must not take detection down.
func (l *Library) Reload() error {
	raw, err := l.source.GetActiveRules()
	if err != nil {
		return fmt.Errorf("failed to load keyword rules: %w", err)
	}

	compiled := make([]*CompiledRule, 0, len(raw))
	for _, rule := range raw {
		if rule.Weight <= 0 || rule.Weight > 1 {
			l.logger.Warn("Skipping rule with out-of-range weight",
				zap.Int64("rule_id", rule.ID),
				zap.Float64("weight", rule.Weight))
			metrics.RulesSkipped.Inc()
			continue
		}
		cr, err := Compile(rule)
		if err != nil {
			l.logger.Warn("Skipping malformed rule",
				zap.Int64("rule_id", rule.ID),
				zap.String("phrase", rule.Phrase),
				zap.Error(err))
			metrics.RulesSkipped.Inc()
			continue
		}
		compiled = append(compiled, cr)
	}

	snap := &Snapshot{
		Version: l.version.Add(1),
		rules:   compiled,
	}
	l.current.Store(snap)
	l.logger.Info("Rule library reloaded",
		zap.Int64("snapshot_version", snap.Version),
		zap.Int("active_rules", len(compiled)),
		zap.Int("skipped", len(raw)-len(compiled)))
	return nil
}

// Compile builds the matcher for one rule. Word-boundary and
// case-insensitivity for literal phrases are expressed by compiling
// them into an anchored regex; plain substring rules skip the regexp
// engine entirely.
func Compile(rule *models.KeywordRule) (*CompiledRule, error) {
	cr := &CompiledRule{Rule: *rule}

	switch {
	case rule.IsRegex:
		expr := rule.Phrase
		if !rule.CaseSensitive {
			expr = "(?i)" + expr
		}
		pattern, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", crisiserr.ErrRuleEvaluation, err)
		}
		cr.pattern = pattern

	case rule.WordBoundary:
		expr := `\b` + regexp.QuoteMeta(rule.Phrase) + `\b`
		if !rule.CaseSensitive {
			expr = "(?i)" + expr
		}
		pattern, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", crisiserr.ErrRuleEvaluation, err)
		}
		cr.pattern = pattern

	default:
		cr.literal = strings.ToLower(rule.Phrase)
	}

	return cr, nil
}
