// Package explain derives a reproducible explanation for a consensus decision:
// evidence attribution, an ordered reasoning trace, a confidence decomposition
// and counterfactual alternatives. It is purely descriptive; nothing here
// feeds back into the consensus result.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/madnx-diagnostic-core/internal/config"
	"github.com/madnx-diagnostic-core/internal/domain"
)

// Compiler builds explanation bundles. Stateless per request.
type Compiler struct {
	logger *logrus.Logger
	cfg    config.ExplainConfig
}

// NewCompiler creates an explainability compiler.
func NewCompiler(logger *logrus.Logger, cfg config.ExplainConfig) *Compiler {
	return &Compiler{logger: logger, cfg: cfg}
}

// Input carries the decision context the compiler explains.
type Input struct {
	Reports       map[string]*domain.AnalyzerReport
	Diagnosis     string
	Confidence    float64
	IsDefinitive  bool
	Differentials []string
}

// Compile assembles the complete explanation bundle.
func (c *Compiler) Compile(in Input) *domain.ExplanationBundle {
	certainty := domain.CertaintyForConfidence(in.Confidence)
	if in.IsDefinitive {
		certainty = domain.CertaintyConfirmed
	}

	analyzers := sortedAnalyzers(in.Reports)
	attributions := c.buildAttributions(analyzers, in)
	chain := c.buildReasoningChain(in)
	decomposition := c.buildDecomposition(analyzers, in)
	counterfactuals := c.buildCounterfactuals(in)
	oneLine, detailed := summarize(in.Diagnosis, in.Confidence, certainty, attributions, counterfactuals)

	c.logger.WithFields(logrus.Fields{
		"diagnosis":       in.Diagnosis,
		"attributions":    len(attributions),
		"reasoning_steps": len(chain),
		"counterfactuals": len(counterfactuals),
	}).Debug("Explanation compiled")

	return &domain.ExplanationBundle{
		Diagnosis:       in.Diagnosis,
		Confidence:      in.Confidence,
		Certainty:       certainty,
		Attributions:    attributions,
		ReasoningChain:  chain,
		Decomposition:   decomposition,
		Counterfactuals: counterfactuals,
		OneLine:         oneLine,
		Detailed:        detailed,
	}
}

// buildAttributions weighs each finding's contribution to the final diagnosis.
// A finding from a definitive analyzer that supports the diagnosis is decisive
// (weight 1.0); otherwise the weight follows severity.
func (c *Compiler) buildAttributions(analyzers []string, in Input) []domain.EvidenceAttribution {
	var attributions []domain.EvidenceAttribution

	for _, analyzer := range analyzers {
		report := in.Reports[analyzer]
		supports := analyzerSupports(report, in.Diagnosis)

		for _, finding := range report.Findings {
			var contribution domain.Contribution
			var weight float64
			switch {
			case report.IsDefinitive && supports:
				contribution, weight = domain.ContributionDecisive, 1.0
			case finding.Severity == domain.SeverityCritical || finding.Severity == domain.SeverityHigh:
				contribution, weight = domain.ContributionStrong, finding.Severity.AttributionWeight()
			case finding.Severity == domain.SeverityModerate:
				contribution, weight = domain.ContributionModerate, finding.Severity.AttributionWeight()
			default:
				contribution, weight = domain.ContributionWeak, finding.Severity.AttributionWeight()
			}

			attributions = append(attributions, domain.EvidenceAttribution{
				EvidenceType:   strings.TrimSuffix(analyzer, "ologist"),
				Finding:        finding.Name,
				Contribution:   contribution,
				Weight:         weight,
				Reasoning:      finding.ClinicalSignificance,
				SourceAnalyzer: analyzer,
			})
		}
	}

	sort.SliceStable(attributions, func(i, j int) bool {
		return attributions[i].Weight > attributions[j].Weight
	})
	return attributions
}

// buildReasoningChain iterates analyzers in fixed clinical-workflow order and
// accumulates a running confidence estimate capped at 0.98. Analyzers with no
// findings contribute no step.
func (c *Compiler) buildReasoningChain(in Input) []domain.ReasoningStep {
	var steps []domain.ReasoningStep
	cumulative := 0.0
	stepNum := 1

	for _, analyzer := range c.cfg.ClinicalOrder {
		report, ok := in.Reports[analyzer]
		if !ok || len(report.Findings) == 0 {
			continue
		}

		findingNames := make([]string, 0, 3)
		for _, f := range report.Findings {
			findingNames = append(findingNames, f.Name)
			if len(findingNames) == 3 {
				break
			}
		}

		topDiag, _, _ := report.TopDiagnosis()
		var action, conclusion string
		var delta float64
		switch {
		case report.IsDefinitive:
			action = "confirmed"
			conclusion = fmt.Sprintf("DEFINITIVE: %s confirmed by gold-standard test", in.Diagnosis)
			delta = 0.98 - cumulative
		case containsFold(topDiag, in.Diagnosis) || containsFold(in.Diagnosis, topDiag):
			action = "supported"
			conclusion = fmt.Sprintf("Evidence supports %s", in.Diagnosis)
			delta = math.Min(0.15, report.Confidence*0.3)
		default:
			action = "evaluated"
			conclusion = fmt.Sprintf("Findings noted: %s", strings.Join(findingNames, ", "))
			delta = 0.05
		}
		delta = round3(delta)
		cumulative = math.Min(0.98, cumulative+delta)

		steps = append(steps, domain.ReasoningStep{
			StepNumber:      stepNum,
			Analyzer:        analyzer,
			Action:          action,
			Description:     fmt.Sprintf("%s analyzed %d finding(s)", title(analyzer), len(report.Findings)),
			EvidenceUsed:    findingNames,
			Conclusion:      conclusion,
			ConfidenceDelta: delta,
		})
		stepNum++
	}
	return steps
}

// buildDecomposition breaks the externally supplied final confidence into
// base, agreement and evidence components with penalty notes.
func (c *Compiler) buildDecomposition(analyzers []string, in Input) domain.ConfidenceDecomposition {
	for _, analyzer := range analyzers {
		if in.Reports[analyzer].IsDefinitive {
			return domain.ConfidenceDecomposition{
				BaseConfidence:  0.95,
				EvidenceBoost:   round3(in.Confidence - 0.95),
				AgreementBoost:  0,
				FinalConfidence: in.Confidence,
				CalibrationNote: "Confidence based on definitive diagnostic finding (gold-standard test)",
			}
		}
	}

	if len(analyzers) == 0 {
		return domain.ConfidenceDecomposition{
			FinalConfidence: in.Confidence,
			PenaltyFactors:  []string{"No analyzer reports available"},
			CalibrationNote: "Confidence based on weighted analyzer consensus",
		}
	}

	var sum, lo, hi float64
	lo, hi = math.Inf(1), math.Inf(-1)
	supporting := 0
	for _, analyzer := range analyzers {
		conf := in.Reports[analyzer].Confidence
		sum += conf
		lo = math.Min(lo, conf)
		hi = math.Max(hi, conf)
		if conf > 0.3 {
			supporting++
		}
	}
	base := sum / float64(len(analyzers))
	agreementBoost := 0.05 * math.Max(0, float64(supporting-1))

	var penalties []string
	if len(analyzers) < 3 {
		penalties = append(penalties, "Incomplete data (not all analyzers provided input)")
	}
	if hi-lo > 0.4 {
		penalties = append(penalties, "Analyzer disagreement detected")
	}

	return domain.ConfidenceDecomposition{
		BaseConfidence:  round3(base),
		EvidenceBoost:   round3(in.Confidence - base - agreementBoost),
		AgreementBoost:  round3(agreementBoost),
		PenaltyFactors:  penalties,
		FinalConfidence: in.Confidence,
		CalibrationNote: "Confidence based on weighted analyzer consensus",
	}
}

// buildCounterfactuals looks up what evidence would flip the decision to each
// differential. Diagnoses absent from the table get the generic placeholder.
func (c *Compiler) buildCounterfactuals(in Input) []domain.Counterfactual {
	var out []domain.Counterfactual
	for _, alt := range in.Differentials {
		if len(out) == 3 {
			break
		}
		if strings.EqualFold(alt, in.Diagnosis) {
			continue
		}
		entry, ok := c.cfg.Counterfactuals[alt]
		missing := entry.Required
		if !ok || len(missing) == 0 {
			missing = []string{"Specific diagnostic criteria"}
		}
		out = append(out, domain.Counterfactual{
			CurrentDiagnosis:      in.Diagnosis,
			AlternativeDiagnosis:  alt,
			MissingEvidence:       missing,
			ContradictingEvidence: entry.Contradicts,
		})
	}
	return out
}

func summarize(diagnosis string, confidence float64, certainty domain.Certainty, attributions []domain.EvidenceAttribution, counterfactuals []domain.Counterfactual) (string, string) {
	var decisive, strong []domain.EvidenceAttribution
	for _, a := range attributions {
		switch a.Contribution {
		case domain.ContributionDecisive:
			decisive = append(decisive, a)
		case domain.ContributionStrong:
			strong = append(strong, a)
		}
	}

	var oneLine string
	switch {
	case len(decisive) > 0:
		oneLine = fmt.Sprintf("%s CONFIRMED by %s", diagnosis, decisive[0].Finding)
	case len(strong) > 0:
		oneLine = fmt.Sprintf("%s supported by %d strong finding(s)", diagnosis, len(strong))
	default:
		oneLine = fmt.Sprintf("%s suggested based on clinical presentation", diagnosis)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Diagnosis: %s (%s)\n", diagnosis, strings.ToUpper(certainty.String()))
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", confidence*100)
	b.WriteString("Key Evidence:\n")
	for i, a := range attributions {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "  - [%s] %s (%s)\n", strings.ToUpper(a.Contribution.String()), a.Finding, a.SourceAnalyzer)
	}
	if len(counterfactuals) > 0 {
		b.WriteString("Differential Considerations:\n")
		for i, cf := range counterfactuals {
			if i == 2 {
				break
			}
			fmt.Fprintf(&b, "  - %s: would require %s\n", cf.AlternativeDiagnosis, cf.MissingEvidence[0])
		}
	}
	return oneLine, strings.TrimRight(b.String(), "\n")
}

// analyzerSupports reports whether the analyzer named the final diagnosis
// among its candidates.
func analyzerSupports(report *domain.AnalyzerReport, diagnosis string) bool {
	for name := range report.Diagnoses {
		if containsFold(name, diagnosis) || containsFold(diagnosis, name) {
			return true
		}
	}
	return false
}

func sortedAnalyzers(reports map[string]*domain.AnalyzerReport) []string {
	names := make([]string, 0, len(reports))
	for name := range reports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func containsFold(s, substr string) bool {
	if substr == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
