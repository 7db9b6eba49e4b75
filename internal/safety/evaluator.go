// Package safety independently re-scans raw analyzer reports for must-not-miss
// conditions, inter-analyzer contradictions and confidence miscalibration.
// It runs on the raw reports, not the merged result, and it runs even when the
// consensus engine short-circuited on a definitive finding: a confirmed
// diagnosis can coexist with an unrelated critical alert from another
// analyzer.
package safety

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/madnx-diagnostic-core/internal/config"
	"github.com/madnx-diagnostic-core/internal/domain"
)

// Disclaimer is attached to every assessment.
const Disclaimer = "This is an AI-assisted diagnostic tool. All outputs must be reviewed by qualified healthcare professionals. Do not make clinical decisions based solely on this output."

// Evaluator performs the safety checks. Stateless per request.
type Evaluator struct {
	logger   *logrus.Logger
	cfg      config.SafetyConfig
	negation []*regexp.Regexp
}

// NewEvaluator compiles the negation patterns once and returns the evaluator.
func NewEvaluator(logger *logrus.Logger, cfg config.SafetyConfig) (*Evaluator, error) {
	negation := make([]*regexp.Regexp, 0, len(cfg.NegationPatterns))
	for _, p := range cfg.NegationPatterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("invalid negation pattern %q: %w", p, err)
		}
		negation = append(negation, re)
	}
	return &Evaluator{logger: logger, cfg: cfg, negation: negation}, nil
}

// Evaluate runs every safety check and assembles the assessment.
func (e *Evaluator) Evaluate(reports map[string]*domain.AnalyzerReport) *domain.SafetyAssessment {
	if len(reports) == 0 {
		return &domain.SafetyAssessment{
			RiskTier:       domain.RiskHigh,
			CriticalAlerts: []domain.CriticalAlert{},
			Contradictions: []domain.Contradiction{},
			Calibration:    domain.CalibrationSummary{Reliability: "unknown"},
			HumanReview: domain.ReviewDecision{
				Needed:  true,
				Reasons: []string{"No analyzer reports provided for safety evaluation"},
			},
			Flags:      []string{"NO_DATA_PROVIDED"},
			Disclaimer: Disclaimer,
		}
	}

	analyzers := sortedAnalyzers(reports)

	alerts := e.scanCriticalConditions(analyzers, reports)
	contradictions := e.scanContradictions(analyzers, reports)
	calibration := e.checkCalibration(analyzers, reports)
	missing := scanMissingData(analyzers, reports)

	tier := assessRiskTier(alerts, contradictions, calibration)
	review := e.reviewDecision(tier, alerts, contradictions, missing)
	flags := buildFlags(tier, alerts)

	e.logger.WithFields(logrus.Fields{
		"risk_tier":      tier,
		"alerts":         len(alerts),
		"contradictions": len(contradictions),
		"reliability":    calibration.Reliability,
		"needs_review":   review.Needed,
	}).Info("Safety evaluation complete")

	return &domain.SafetyAssessment{
		RiskTier:       tier,
		CriticalAlerts: alerts,
		Contradictions: contradictions,
		Calibration:    calibration,
		MissingData:    missing,
		HumanReview:    review,
		Flags:          flags,
		Disclaimer:     Disclaimer,
	}
}

// scanCriticalConditions matches the concatenated report text against the
// critical-condition table. At most one alert per condition; a keyword whose
// preceding negation window contains a negation word does not count.
func (e *Evaluator) scanCriticalConditions(analyzers []string, reports map[string]*domain.AnalyzerReport) []domain.CriticalAlert {
	combined := strings.ToLower(combinedText(analyzers, reports))

	var alerts []domain.CriticalAlert
	for _, condition := range e.cfg.CriticalConditions {
		for _, keyword := range condition.Keywords {
			idx := e.findUnnegated(combined, strings.ToLower(keyword))
			if idx < 0 {
				continue
			}
			alerts = append(alerts, domain.CriticalAlert{
				Condition:      condition.Name,
				MatchedKeyword: keyword,
				ActionRequired: condition.Action,
				TimeCritical:   condition.TimeCritical,
			})
			break // one alert per condition
		}
	}
	return alerts
}

// findUnnegated returns the index of the first occurrence of keyword in text
// whose preceding window carries no negation word, or -1.
func (e *Evaluator) findUnnegated(text, keyword string) int {
	offset := 0
	for {
		idx := strings.Index(text[offset:], keyword)
		if idx < 0 {
			return -1
		}
		abs := offset + idx
		if !e.isNegated(text, abs) {
			return abs
		}
		offset = abs + len(keyword)
	}
}

// isNegated scans the configured window before the match for negation words.
// The window is deliberately a fixed prefix length: it can misfire across
// clause boundaries, and changing it changes clinical semantics, so it is
// configuration rather than logic.
func (e *Evaluator) isNegated(text string, matchStart int) bool {
	start := matchStart - e.cfg.NegationWindow
	if start < 0 {
		start = 0
	}
	prefix := text[start:matchStart]
	for _, re := range e.negation {
		if re.MatchString(prefix) {
			return true
		}
	}
	return false
}

// scanContradictions emits one record per diagnosis that ≥2 analyzers mention,
// at least one with a significant probability, where the spread exceeds the
// threshold. Low probabilities stay in the comparison: 0.9 against 0.1 is
// exactly the disagreement worth surfacing.
func (e *Evaluator) scanContradictions(analyzers []string, reports map[string]*domain.AnalyzerReport) []domain.Contradiction {
	byDiagnosis := make(map[string]map[string]float64)
	for _, analyzer := range analyzers {
		for diagnosis, prob := range reports[analyzer].Diagnoses {
			key := strings.ToLower(strings.TrimSpace(diagnosis))
			if byDiagnosis[key] == nil {
				byDiagnosis[key] = make(map[string]float64)
			}
			byDiagnosis[key][analyzer] = prob
		}
	}

	keys := make([]string, 0, len(byDiagnosis))
	for k := range byDiagnosis {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var contradictions []domain.Contradiction
	for _, key := range keys {
		probs := byDiagnosis[key]
		if len(probs) < 2 {
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range probs {
			lo = math.Min(lo, p)
			hi = math.Max(hi, p)
		}
		if hi > e.cfg.ContradictionMin && hi-lo > e.cfg.ContradictionSpread {
			contradictions = append(contradictions, domain.Contradiction{
				Diagnosis:    key,
				Disagreement: probs,
				Spread:       hi - lo,
			})
		}
	}
	return contradictions
}

// checkCalibration summarizes analyzer confidence reliability.
func (e *Evaluator) checkCalibration(analyzers []string, reports map[string]*domain.AnalyzerReport) domain.CalibrationSummary {
	var sum float64
	var low []string
	for _, analyzer := range analyzers {
		conf := reports[analyzer].Confidence
		sum += conf
		if conf < 0.4 {
			low = append(low, analyzer)
		}
	}
	avg := sum / float64(len(analyzers))

	reliability := "low"
	switch {
	case avg >= 0.6:
		reliability = "high"
	case avg >= 0.4:
		reliability = "moderate"
	}

	return domain.CalibrationSummary{
		AverageConfidence:      math.Round(avg*1000) / 1000,
		Reliability:            reliability,
		LowConfidenceAnalyzers: low,
	}
}

func scanMissingData(analyzers []string, reports map[string]*domain.AnalyzerReport) []string {
	var missing []string
	for _, analyzer := range analyzers {
		if reports[analyzer].HasIncompleteData() {
			missing = append(missing, analyzer)
		}
	}
	return missing
}

// assessRiskTier derives the overall tier; exhaustive over the closed set.
func assessRiskTier(alerts []domain.CriticalAlert, contradictions []domain.Contradiction, calibration domain.CalibrationSummary) domain.RiskTier {
	for _, a := range alerts {
		if a.TimeCritical {
			return domain.RiskCritical
		}
	}
	if len(alerts) > 0 {
		return domain.RiskHigh
	}
	if len(contradictions) > 1 || calibration.Reliability == "low" {
		return domain.RiskModerate
	}
	return domain.RiskLow
}

// reviewDecision records every reason that triggers human review, not just a
// boolean.
func (e *Evaluator) reviewDecision(tier domain.RiskTier, alerts []domain.CriticalAlert, contradictions []domain.Contradiction, missing []string) domain.ReviewDecision {
	var reasons []string

	if tier.RequiresHumanReview() {
		reasons = append(reasons, "Critical or high-risk findings present")
	}
	if len(alerts) > 0 {
		names := make([]string, 0, len(alerts))
		for _, a := range alerts {
			names = append(names, a.Condition)
		}
		reasons = append(reasons, fmt.Sprintf("Critical conditions detected: %s", strings.Join(names, ", ")))
	}
	if len(contradictions) > 1 {
		reasons = append(reasons, "Significant disagreement between specialist analyzers")
	}
	if len(missing) > 1 {
		reasons = append(reasons, "Insufficient data for multiple analyzers")
	}

	return domain.ReviewDecision{Needed: len(reasons) > 0, Reasons: reasons}
}

func buildFlags(tier domain.RiskTier, alerts []domain.CriticalAlert) []string {
	var flags []string
	if tier == domain.RiskCritical {
		flags = append(flags, "CRITICAL: Immediate clinical attention required")
	}
	for _, a := range alerts {
		flags = append(flags, fmt.Sprintf("CRITICAL: %s - %s", a.Condition, a.ActionRequired))
	}
	return flags
}

// combinedText serializes the reports in analyzer order into one searchable
// blob for keyword matching.
func combinedText(analyzers []string, reports map[string]*domain.AnalyzerReport) string {
	var b strings.Builder
	for _, analyzer := range analyzers {
		raw, err := json.Marshal(reports[analyzer])
		if err != nil {
			continue
		}
		b.Write(raw)
		b.WriteByte('\n')
	}
	return b.String()
}

func sortedAnalyzers(reports map[string]*domain.AnalyzerReport) []string {
	names := make([]string, 0, len(reports))
	for name := range reports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
