package safety

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madnx-diagnostic-core/internal/config"
	"github.com/madnx-diagnostic-core/internal/domain"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	evaluator, err := NewEvaluator(logger, config.Default().Safety)
	require.NoError(t, err)
	return evaluator
}

func TestEvaluate_EmptyInput(t *testing.T) {
	evaluator := newTestEvaluator(t)

	assessment := evaluator.Evaluate(map[string]*domain.AnalyzerReport{})

	assert.Equal(t, domain.RiskHigh, assessment.RiskTier)
	assert.True(t, assessment.HumanReview.Needed)
	assert.Contains(t, assessment.Flags, "NO_DATA_PROVIDED")
	assert.NotEmpty(t, assessment.Disclaimer)
}

func TestEvaluate_CriticalConditionDetected(t *testing.T) {
	evaluator := newTestEvaluator(t)

	reports := map[string]*domain.AnalyzerReport{
		"cardiologist": {
			Analyzer:   "cardiologist",
			Diagnoses:  map[string]float64{"STEMI": 0.9},
			Confidence: 0.9,
			Findings: []domain.Finding{
				{Name: "ST elevation in leads V1-V4", Present: true, Severity: domain.SeverityCritical},
			},
		},
	}

	assessment := evaluator.Evaluate(reports)

	assert.Equal(t, domain.RiskCritical, assessment.RiskTier)
	require.NotEmpty(t, assessment.CriticalAlerts)
	assert.Equal(t, "STEMI", assessment.CriticalAlerts[0].Condition)
	assert.True(t, assessment.CriticalAlerts[0].TimeCritical)
	assert.True(t, assessment.HumanReview.Needed)
	assert.NotEmpty(t, assessment.Flags)
}

func TestEvaluate_NegatedKeywordIgnored(t *testing.T) {
	evaluator := newTestEvaluator(t)

	reports := map[string]*domain.AnalyzerReport{
		"cardiologist": {
			Analyzer:   "cardiologist",
			Diagnoses:  map[string]float64{"Stable Angina": 0.6},
			Confidence: 0.7,
			Impression: "no st elevation seen on ECG, normal intervals",
		},
	}

	assessment := evaluator.Evaluate(reports)

	for _, alert := range assessment.CriticalAlerts {
		assert.NotEqual(t, "STEMI", alert.Condition, "negated keyword must not raise an alert")
	}
}

func TestEvaluate_OnePerCondition(t *testing.T) {
	evaluator := newTestEvaluator(t)

	reports := map[string]*domain.AnalyzerReport{
		"radiologist": {
			Analyzer:   "radiologist",
			Diagnoses:  map[string]float64{"Pulmonary Embolism": 0.9},
			Confidence: 0.9,
			Impression: "saddle embolus with filling defect in the right main pulmonary artery, pulmonary embolism confirmed",
		},
	}

	assessment := evaluator.Evaluate(reports)

	count := 0
	for _, alert := range assessment.CriticalAlerts {
		if alert.Condition == "Pulmonary Embolism" {
			count++
		}
	}
	assert.Equal(t, 1, count, "multiple keywords for one condition must yield one alert")
}

func TestEvaluate_Contradiction(t *testing.T) {
	evaluator := newTestEvaluator(t)

	reports := map[string]*domain.AnalyzerReport{
		"radiologist": {
			Analyzer:   "radiologist",
			Diagnoses:  map[string]float64{"Atypical Process": 0.9},
			Confidence: 0.8,
		},
		"pulmonologist": {
			Analyzer:   "pulmonologist",
			Diagnoses:  map[string]float64{"Atypical Process": 0.1},
			Confidence: 0.7,
		},
	}

	assessment := evaluator.Evaluate(reports)

	require.Len(t, assessment.Contradictions, 1)
	c := assessment.Contradictions[0]
	assert.Equal(t, "atypical process", c.Diagnosis)
	assert.InDelta(t, 0.8, c.Spread, 0.0001)
	assert.Len(t, c.Disagreement, 2)
}

func TestEvaluate_NoContradictionWhenAligned(t *testing.T) {
	evaluator := newTestEvaluator(t)

	reports := map[string]*domain.AnalyzerReport{
		"radiologist":   {Analyzer: "radiologist", Diagnoses: map[string]float64{"Atypical Process": 0.6}, Confidence: 0.8},
		"pulmonologist": {Analyzer: "pulmonologist", Diagnoses: map[string]float64{"Atypical Process": 0.5}, Confidence: 0.7},
	}

	assessment := evaluator.Evaluate(reports)
	assert.Empty(t, assessment.Contradictions)
}

func TestEvaluate_Calibration(t *testing.T) {
	evaluator := newTestEvaluator(t)

	t.Run("low reliability flags analyzers", func(t *testing.T) {
		reports := map[string]*domain.AnalyzerReport{
			"radiologist":  {Analyzer: "radiologist", Diagnoses: map[string]float64{"Atypical Process": 0.2}, Confidence: 0.2},
			"cardiologist": {Analyzer: "cardiologist", Diagnoses: map[string]float64{"Atypical Process": 0.25}, Confidence: 0.3},
		}

		assessment := evaluator.Evaluate(reports)

		assert.Equal(t, "low", assessment.Calibration.Reliability)
		assert.ElementsMatch(t, []string{"radiologist", "cardiologist"}, assessment.Calibration.LowConfidenceAnalyzers)
		assert.Equal(t, domain.RiskModerate, assessment.RiskTier)
	})

	t.Run("high reliability", func(t *testing.T) {
		reports := map[string]*domain.AnalyzerReport{
			"radiologist":  {Analyzer: "radiologist", Diagnoses: map[string]float64{"Atypical Process": 0.6}, Confidence: 0.8},
			"cardiologist": {Analyzer: "cardiologist", Diagnoses: map[string]float64{"Atypical Process": 0.55}, Confidence: 0.75},
		}

		assessment := evaluator.Evaluate(reports)

		assert.Equal(t, "high", assessment.Calibration.Reliability)
		assert.Empty(t, assessment.Calibration.LowConfidenceAnalyzers)
		assert.Equal(t, domain.RiskLow, assessment.RiskTier)
		assert.False(t, assessment.HumanReview.Needed)
	})
}

func TestEvaluate_MissingDataTracked(t *testing.T) {
	evaluator := newTestEvaluator(t)

	reports := map[string]*domain.AnalyzerReport{
		"radiologist": {
			Analyzer:   "radiologist",
			Diagnoses:  map[string]float64{"Atypical Process": 0.5},
			Confidence: 0.6,
			Flags:      []string{"INCOMPLETE DATA: prior imaging unavailable"},
		},
		"cardiologist": {
			Analyzer:   "cardiologist",
			Diagnoses:  map[string]float64{"Atypical Process": 0.5},
			Confidence: 0.6,
		},
	}

	assessment := evaluator.Evaluate(reports)
	assert.Equal(t, []string{"radiologist"}, assessment.MissingData)
}

func TestNewEvaluator_InvalidPattern(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.Default().Safety
	cfg.NegationPatterns = []string{`(`}

	_, err := NewEvaluator(logger, cfg)
	assert.Error(t, err)
}
