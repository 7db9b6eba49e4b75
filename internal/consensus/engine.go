// Package consensus merges independent analyzer reports into one ranked
// diagnosis. A definitive (gold-standard) finding from any analyzer overrides
// probabilistic fusion; otherwise diagnoses are merged by per-condition
// weighted averaging with an agreement boost.
package consensus

import (
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/madnx-diagnostic-core/internal/config"
	"github.com/madnx-diagnostic-core/internal/domain"
)

// NoDiagnosisLabel is returned when no analyzer supplied any report.
const NoDiagnosisLabel = "No diagnosis - insufficient data"

// Engine computes the merged ranking. It is stateless per request; a single
// Engine may serve concurrent callers.
type Engine struct {
	logger *logrus.Logger
	cfg    config.ConsensusConfig
}

// NewEngine creates a consensus engine with the given weight tables.
func NewEngine(logger *logrus.Logger, cfg config.ConsensusConfig) *Engine {
	return &Engine{logger: logger, cfg: cfg}
}

// analyzerProb is one (analyzer, probability, weight) observation for a
// diagnosis bucket.
type analyzerProb struct {
	analyzer string
	prob     float64
	weight   float64
}

// Merge fuses the reports into a ConsensusResult. Deterministic: identical
// inputs produce bit-identical output regardless of map iteration order.
func (e *Engine) Merge(reports map[string]*domain.AnalyzerReport) *domain.ConsensusResult {
	if len(reports) == 0 {
		return &domain.ConsensusResult{
			TopDiagnosis: NoDiagnosisLabel,
			Certainty:    domain.CertaintyUncertain,
			Urgency:      domain.SeverityModerate,
			MergedLabels: map[string]float64{},
		}
	}

	analyzers := sortedAnalyzers(reports)

	if result := e.checkDefinitive(analyzers, reports); result != nil {
		return result
	}

	buckets, displayNames := e.collectHypotheses(analyzers, reports)

	type scored struct {
		diagnosis  string
		prob       float64
		agreement  float64
		supporting []string
	}
	scores := make([]scored, 0, len(buckets))
	merged := make(map[string]float64, len(buckets))

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		probs := buckets[key]
		weighted, agreement := weightedProbability(probs)
		supporting := supportingAnalyzers(probs, e.cfg.SupportThreshold)

		final := weighted
		if len(supporting) > 1 {
			final = weighted * (1 + e.cfg.AgreementBoost*agreement)
		}
		final = math.Min(e.cfg.ProbabilityCap, final)
		final = round(final, 4)

		scores = append(scores, scored{
			diagnosis:  displayNames[key],
			prob:       final,
			agreement:  agreement,
			supporting: supporting,
		})
		merged[displayNames[key]] = final
	}

	if len(scores) == 0 {
		// Reports arrived but named no diagnoses. Confidence and urgency
		// still follow the analyzer confidences and their alert flags.
		const label = "No significant diagnosis identified"
		flags := collectFlags(analyzers, reports)
		confidence := e.finalConfidence(analyzers, reports, 0)
		return &domain.ConsensusResult{
			TopDiagnosis: label,
			Confidence:   confidence,
			Certainty:    domain.CertaintyForConfidence(confidence),
			Urgency:      determineUrgency(label, flags),
			MergedLabels: merged,
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].prob != scores[j].prob {
			return scores[i].prob > scores[j].prob
		}
		return scores[i].diagnosis < scores[j].diagnosis
	})

	top := scores[0]
	var differentials []domain.Differential
	for _, s := range scores[1:] {
		if s.prob > e.cfg.DifferentialFloor {
			differentials = append(differentials, domain.Differential{Diagnosis: s.diagnosis, Probability: s.prob})
		}
		if len(differentials) == e.cfg.DifferentialLimit {
			break
		}
	}

	confidence := e.finalConfidence(analyzers, reports, top.agreement)
	flags := collectFlags(analyzers, reports)

	result := &domain.ConsensusResult{
		TopDiagnosis:        top.diagnosis,
		Probability:         top.prob,
		Confidence:          confidence,
		AgreementScore:      top.agreement,
		SupportingAnalyzers: top.supporting,
		Differentials:       differentials,
		Certainty:           domain.CertaintyForConfidence(confidence),
		MergedLabels:        merged,
		Urgency:             determineUrgency(top.diagnosis, flags),
	}

	e.logger.WithFields(logrus.Fields{
		"top_diagnosis": result.TopDiagnosis,
		"probability":   result.Probability,
		"confidence":    result.Confidence,
		"agreement":     result.AgreementScore,
		"differentials": len(result.Differentials),
	}).Info("Consensus computed")

	return result
}

// checkDefinitive returns the short-circuit result when any report carries a
// gold-standard confirmation, nil otherwise. The confirmed diagnosis has no
// meaningful alternatives, so the differential list is empty.
func (e *Engine) checkDefinitive(analyzers []string, reports map[string]*domain.AnalyzerReport) *domain.ConsensusResult {
	for _, name := range analyzers {
		report := reports[name]
		if !report.IsDefinitive {
			continue
		}
		diagnosis, _, ok := report.TopDiagnosis()
		if !ok {
			continue
		}
		diagnosis = e.Normalize(diagnosis)
		confidence := math.Max(report.Confidence, e.cfg.DefinitiveFloor)

		e.logger.WithFields(logrus.Fields{
			"diagnosis":    diagnosis,
			"confirmed_by": name,
			"confidence":   confidence,
		}).Info("Definitive finding overrides probabilistic fusion")

		return &domain.ConsensusResult{
			TopDiagnosis:        diagnosis,
			Probability:         confidence,
			Confidence:          confidence,
			AgreementScore:      1.0,
			SupportingAnalyzers: []string{name},
			Certainty:           domain.CertaintyConfirmed,
			MergedLabels:        map[string]float64{diagnosis: confidence},
			Urgency:             definitiveUrgency(diagnosis),
			ConfirmedBy:         name,
			IsDefinitive:        true,
		}
	}
	return nil
}

// collectHypotheses buckets every reported diagnosis under its canonical name.
// Bucket keys are lowercase; displayNames maps each key to the canonical (or
// lexicographically-first reported) spelling so output is deterministic.
func (e *Engine) collectHypotheses(analyzers []string, reports map[string]*domain.AnalyzerReport) (map[string][]analyzerProb, map[string]string) {
	buckets := make(map[string][]analyzerProb)
	displayNames := make(map[string]string)

	for _, analyzer := range analyzers {
		report := reports[analyzer]
		names := make([]string, 0, len(report.Diagnoses))
		for d := range report.Diagnoses {
			names = append(names, d)
		}
		sort.Strings(names)

		for _, raw := range names {
			canonical := e.Normalize(raw)
			key := strings.ToLower(canonical)
			if existing, ok := displayNames[key]; !ok || canonical < existing {
				displayNames[key] = canonical
			}
			buckets[key] = append(buckets[key], analyzerProb{
				analyzer: analyzer,
				prob:     clamp01(report.Diagnoses[raw]),
				weight:   e.conditionWeight(canonical, analyzer),
			})
		}
	}
	return buckets, displayNames
}

// Normalize maps a reported diagnosis name onto its canonical form using the
// configured alias rules. Names with no matching rule pass through trimmed.
func (e *Engine) Normalize(diagnosis string) string {
	trimmed := strings.TrimSpace(diagnosis)
	lower := strings.ToLower(trimmed)
	for _, rule := range e.cfg.Aliases {
		if rule.Exact {
			if len(rule.Terms) == 1 && lower == rule.Terms[0] {
				return rule.Canonical
			}
			continue
		}
		matched := true
		for _, term := range rule.Terms {
			if !strings.Contains(lower, term) {
				matched = false
				break
			}
		}
		if matched && len(rule.Terms) > 0 {
			return rule.Canonical
		}
	}
	return trimmed
}

// conditionWeight resolves the weight for an analyzer on a condition:
// condition table, then base weight, then 1.0.
func (e *Engine) conditionWeight(condition, analyzer string) float64 {
	if perAnalyzer, ok := e.cfg.ConditionWeights[condition]; ok {
		if w, ok := perAnalyzer[analyzer]; ok {
			return w
		}
	}
	if w, ok := e.cfg.BaseWeights[analyzer]; ok {
		return w
	}
	return 1.0
}

// finalConfidence blends mean analyzer confidence with the top diagnosis
// agreement, clamped to [0.1, 0.95].
func (e *Engine) finalConfidence(analyzers []string, reports map[string]*domain.AnalyzerReport, agreement float64) float64 {
	var sum float64
	for _, name := range analyzers {
		sum += clamp01(reports[name].Confidence)
	}
	avg := sum / float64(len(analyzers))
	confidence := round(avg*0.7+agreement*0.3, 3)
	return math.Max(0.1, math.Min(e.cfg.ProbabilityCap, confidence))
}

// weightedProbability returns the weighted mean probability and the agreement
// score for one bucket. Agreement is max(0, 1-2σ) over the unweighted
// probabilities; a single reporter yields a neutral 0.5.
func weightedProbability(probs []analyzerProb) (float64, float64) {
	if len(probs) == 0 {
		return 0, 0
	}
	var totalWeight, weightedSum float64
	for _, p := range probs {
		totalWeight += p.weight
		weightedSum += p.prob * p.weight
	}
	weighted := 0.0
	if totalWeight > 0 {
		weighted = weightedSum / totalWeight
	}

	agreement := 0.5
	if len(probs) > 1 {
		var mean float64
		for _, p := range probs {
			mean += p.prob
		}
		mean /= float64(len(probs))
		var variance float64
		for _, p := range probs {
			variance += (p.prob - mean) * (p.prob - mean)
		}
		variance /= float64(len(probs))
		agreement = math.Max(0, 1-2*math.Sqrt(variance))
	}
	return round(weighted, 4), round(agreement, 3)
}

func supportingAnalyzers(probs []analyzerProb, threshold float64) []string {
	var out []string
	for _, p := range probs {
		if p.prob >= threshold {
			out = append(out, p.analyzer)
		}
	}
	return out
}

// collectFlags gathers all analyzer alert flags, prefixed by source.
func collectFlags(analyzers []string, reports map[string]*domain.AnalyzerReport) []string {
	var flags []string
	for _, name := range analyzers {
		for _, f := range reports[name].Flags {
			flags = append(flags, "["+name+"] "+f)
		}
	}
	return flags
}

// determineUrgency classifies overall case urgency from the top label and the
// collected alert flags.
func determineUrgency(topDiagnosis string, flags []string) domain.Severity {
	combined := strings.ToLower(topDiagnosis + " " + strings.Join(flags, " "))
	for _, kw := range []string{"stemi", "embolism", "tamponade", "shock", "arrest", "critical"} {
		if strings.Contains(combined, kw) {
			return domain.SeverityCritical
		}
	}
	for _, kw := range []string{"nstemi", "failure", "effusion", "tuberculosis"} {
		if strings.Contains(combined, kw) {
			return domain.SeverityHigh
		}
	}
	return domain.SeverityModerate
}

func definitiveUrgency(diagnosis string) domain.Severity {
	lower := strings.ToLower(diagnosis)
	if strings.Contains(lower, "embolism") || strings.Contains(lower, "stemi") {
		return domain.SeverityCritical
	}
	return domain.SeverityHigh
}

func sortedAnalyzers(reports map[string]*domain.AnalyzerReport) []string {
	names := make([]string, 0, len(reports))
	for name := range reports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// round rounds to n decimal places, matching the fixed precision the ledger
// records so that replayed decisions hash identically.
func round(v float64, n int) float64 {
	pow := math.Pow(10, float64(n))
	return math.Round(v*pow) / pow
}
