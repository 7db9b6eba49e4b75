package consensus

import (
	"io"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madnx-diagnostic-core/internal/config"
	"github.com/madnx-diagnostic-core/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewEngine(logger, config.Default().Consensus)
}

func TestMerge_DefinitiveOverride(t *testing.T) {
	engine := newTestEngine(t)

	reports := map[string]*domain.AnalyzerReport{
		"radiologist": {
			Analyzer:     "radiologist",
			Diagnoses:    map[string]float64{"Pulmonary Embolism": 0.98},
			Confidence:   0.98,
			IsDefinitive: true,
		},
		"cardiologist": {
			Analyzer:   "cardiologist",
			Diagnoses:  map[string]float64{"NSTEMI": 0.6},
			Confidence: 0.7,
		},
	}

	result := engine.Merge(reports)

	assert.Equal(t, "Pulmonary Embolism", result.TopDiagnosis)
	assert.True(t, result.IsDefinitive)
	assert.GreaterOrEqual(t, result.Confidence, 0.95)
	assert.Equal(t, domain.CertaintyConfirmed, result.Certainty)
	assert.Equal(t, "radiologist", result.ConfirmedBy)
	assert.Equal(t, 1.0, result.AgreementScore)
	assert.Equal(t, domain.SeverityCritical, result.Urgency)
	assert.Empty(t, result.Differentials, "a confirmed diagnosis has no alternatives")
}

func TestMerge_WeightedFusion(t *testing.T) {
	engine := newTestEngine(t)

	reports := map[string]*domain.AnalyzerReport{
		"radiologist": {
			Analyzer:   "radiologist",
			Diagnoses:  map[string]float64{"pneumonia": 0.6},
			Confidence: 0.7,
		},
		"cardiologist": {
			Analyzer:   "cardiologist",
			Diagnoses:  map[string]float64{"Community-Acquired Pneumonia": 0.5},
			Confidence: 0.6,
		},
	}

	result := engine.Merge(reports)

	assert.Equal(t, "Community-Acquired Pneumonia", result.TopDiagnosis)
	// Radiologist carries more weight for pneumonia, so the merged probability
	// sits above the unweighted mean after the agreement boost, but never at
	// either analyzer's raw figure.
	assert.Greater(t, result.Probability, 0.4)
	assert.Less(t, result.Probability, 0.7)
	assert.False(t, result.IsDefinitive)
	assert.ElementsMatch(t, []string{"radiologist", "cardiologist"}, result.SupportingAnalyzers)
	assert.Len(t, result.MergedLabels, 1, "alias variants must merge into one bucket")
}

func TestMerge_EmptyInput(t *testing.T) {
	engine := newTestEngine(t)

	result := engine.Merge(map[string]*domain.AnalyzerReport{})

	assert.Equal(t, NoDiagnosisLabel, result.TopDiagnosis)
	assert.Equal(t, domain.CertaintyUncertain, result.Certainty)
	assert.Zero(t, result.Confidence)
}

func TestMerge_NoDiagnosesReported(t *testing.T) {
	engine := newTestEngine(t)

	reports := map[string]*domain.AnalyzerReport{
		"radiologist": {Analyzer: "radiologist", Diagnoses: map[string]float64{}, Confidence: 0.2},
	}

	result := engine.Merge(reports)
	assert.Equal(t, "No significant diagnosis identified", result.TopDiagnosis)
	assert.Equal(t, domain.CertaintyUncertain, result.Certainty)
	// Confidence still follows the blended formula, not a hardcoded floor:
	// 0.7 * 0.2 mean confidence with zero agreement.
	assert.InDelta(t, 0.14, result.Confidence, 0.0001)
}

func TestMerge_NoDiagnosesKeepsFlagUrgency(t *testing.T) {
	engine := newTestEngine(t)

	reports := map[string]*domain.AnalyzerReport{
		"radiologist":  {Analyzer: "radiologist", Diagnoses: map[string]float64{}, Confidence: 0.6},
		"cardiologist": {Analyzer: "cardiologist", Diagnoses: map[string]float64{}, Confidence: 0.8, Flags: []string{"possible septic shock"}},
	}

	result := engine.Merge(reports)

	assert.Equal(t, "No significant diagnosis identified", result.TopDiagnosis)
	assert.InDelta(t, 0.49, result.Confidence, 0.0001)
	assert.Equal(t, domain.SeverityCritical, result.Urgency, "analyzer alert flags drive urgency even without a diagnosis")
}

func TestMerge_Deterministic(t *testing.T) {
	engine := newTestEngine(t)

	reports := map[string]*domain.AnalyzerReport{
		"radiologist":   {Analyzer: "radiologist", Diagnoses: map[string]float64{"pneumonia": 0.5, "heart failure": 0.4, "PE": 0.3}, Confidence: 0.7},
		"cardiologist":  {Analyzer: "cardiologist", Diagnoses: map[string]float64{"heart failure": 0.6, "NSTEMI": 0.4}, Confidence: 0.65},
		"pulmonologist": {Analyzer: "pulmonologist", Diagnoses: map[string]float64{"COPD": 0.45, "pneumonia": 0.5}, Confidence: 0.6},
	}

	first := engine.Merge(reports)
	for i := 0; i < 25; i++ {
		assert.True(t, reflect.DeepEqual(first, engine.Merge(reports)), "run %d differed", i)
	}
}

func TestMerge_DifferentialLimit(t *testing.T) {
	engine := newTestEngine(t)

	reports := map[string]*domain.AnalyzerReport{
		"radiologist": {
			Analyzer: "radiologist",
			Diagnoses: map[string]float64{
				"Condition A": 0.9, "Condition B": 0.8, "Condition C": 0.7,
				"Condition D": 0.6, "Condition E": 0.5, "Condition F": 0.4,
			},
			Confidence: 0.8,
		},
	}

	result := engine.Merge(reports)
	assert.LessOrEqual(t, len(result.Differentials), 3)
	for _, d := range result.Differentials {
		assert.Greater(t, d.Probability, 0.15)
	}
	// Ranked descending.
	for i := 1; i < len(result.Differentials); i++ {
		assert.GreaterOrEqual(t, result.Differentials[i-1].Probability, result.Differentials[i].Probability)
	}
}

func TestMerge_ProbabilityCapped(t *testing.T) {
	engine := newTestEngine(t)

	reports := map[string]*domain.AnalyzerReport{
		"radiologist":   {Analyzer: "radiologist", Diagnoses: map[string]float64{"pneumonia": 0.99}, Confidence: 0.99},
		"pulmonologist": {Analyzer: "pulmonologist", Diagnoses: map[string]float64{"pneumonia": 0.99}, Confidence: 0.99},
	}

	result := engine.Merge(reports)
	assert.LessOrEqual(t, result.Probability, 0.95)
	assert.LessOrEqual(t, result.Confidence, 0.95)
}

func TestNormalize(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		in   string
		want string
	}{
		{"pneumonia", "Community-Acquired Pneumonia"},
		{"right lower lobe pneumonia", "Community-Acquired Pneumonia"},
		{"STEMI", "ST-Elevation Myocardial Infarction"},
		{"ST elevation MI", "ST-Elevation Myocardial Infarction"},
		// "nstemi" contains "stemi"; the more specific rule must win.
		{"NSTEMI", "Non-ST-Elevation Myocardial Infarction"},
		{"non-stemi", "Non-ST-Elevation Myocardial Infarction"},
		{"non-ST elevation myocardial infarction", "Non-ST-Elevation Myocardial Infarction"},
		{"afib", "Atrial Fibrillation"},
		{"pulmonary embolism", "Pulmonary Embolism"},
		{"PE", "Pulmonary Embolism"},
		{"pericarditis", "pericarditis"}, // "pe" alias must not match substrings
		{"CHF", "Acute Decompensated Heart Failure"},
		{"copd exacerbation", "COPD Exacerbation"},
		{"  unknown condition  ", "unknown condition"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.Normalize(tt.in), "input %q", tt.in)
	}
}

func TestWeightedProbability(t *testing.T) {
	t.Run("single reporter gets neutral agreement", func(t *testing.T) {
		weighted, agreement := weightedProbability([]analyzerProb{{analyzer: "a", prob: 0.6, weight: 1.0}})
		assert.Equal(t, 0.6, weighted)
		assert.Equal(t, 0.5, agreement)
	})

	t.Run("identical probabilities agree fully", func(t *testing.T) {
		_, agreement := weightedProbability([]analyzerProb{
			{analyzer: "a", prob: 0.7, weight: 1.0},
			{analyzer: "b", prob: 0.7, weight: 1.0},
		})
		assert.Equal(t, 1.0, agreement)
	})

	t.Run("wide spread collapses agreement", func(t *testing.T) {
		_, agreement := weightedProbability([]analyzerProb{
			{analyzer: "a", prob: 0.9, weight: 1.0},
			{analyzer: "b", prob: 0.1, weight: 1.0},
		})
		assert.Equal(t, 0.2, agreement)
	})

	t.Run("weights shift the mean", func(t *testing.T) {
		weighted, _ := weightedProbability([]analyzerProb{
			{analyzer: "a", prob: 0.8, weight: 2.0},
			{analyzer: "b", prob: 0.2, weight: 1.0},
		})
		require.InDelta(t, 0.6, weighted, 0.0001)
	})

	t.Run("empty input", func(t *testing.T) {
		weighted, agreement := weightedProbability(nil)
		assert.Zero(t, weighted)
		assert.Zero(t, agreement)
	})
}
