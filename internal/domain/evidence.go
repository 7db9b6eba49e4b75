package domain

import (
	"fmt"
	"time"
)

// Evidence is a single observed clinical fact. Immutable once created;
// downstream components read it but never modify it.
type Evidence struct {
	Type        EvidenceType     `json:"type"`
	Description string           `json:"description"`
	Value       string           `json:"value,omitempty"`
	NormalRange string           `json:"normal_range,omitempty"`
	IsAbnormal  bool             `json:"is_abnormal"`
	Strength    EvidenceStrength `json:"strength"`
	Source      string           `json:"source,omitempty"`
}

// Validate checks the evidence against the closed enum sets.
func (e *Evidence) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("evidence validation: invalid type %q", e.Type)
	}
	if e.Description == "" {
		return fmt.Errorf("evidence validation: description is required")
	}
	if !e.Strength.IsValid() {
		return fmt.Errorf("evidence validation: %w", ErrInvalidStrength)
	}
	return nil
}

// Finding is a named clinical observation with its supporting evidence.
// Created by an analyzer; read-only downstream. The finding exclusively owns
// its Evidence slice.
type Finding struct {
	Name                 string     `json:"name"`
	Present              bool       `json:"present"`
	Evidence             []Evidence `json:"evidence,omitempty"`
	Severity             Severity   `json:"severity"`
	ClinicalSignificance string     `json:"clinical_significance,omitempty"`
}

// Validate checks the finding and all its evidence.
func (f *Finding) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("finding validation: name is required")
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("finding validation: %w", ErrInvalidSeverity)
	}
	for i := range f.Evidence {
		if err := f.Evidence[i].Validate(); err != nil {
			return fmt.Errorf("finding %q evidence[%d]: %w", f.Name, i, err)
		}
	}
	return nil
}

// DiagnosticHypothesis is a candidate diagnosis with its evidence and the
// criteria assessment against a disease definition.
type DiagnosticHypothesis struct {
	Diagnosis          string     `json:"diagnosis"`
	ICD10Code          string     `json:"icd10_code,omitempty"`
	Probability        float64    `json:"probability"`
	SupportingEvidence []Evidence `json:"supporting_evidence,omitempty"`
	OpposingEvidence   []Evidence `json:"opposing_evidence,omitempty"`
	CriteriaMet        []string   `json:"criteria_met,omitempty"`
	CriteriaNotMet     []string   `json:"criteria_not_met,omitempty"`
	Differentials      []string   `json:"differential_diagnoses,omitempty"`
	RecommendedWorkup  []string   `json:"recommended_workup,omitempty"`
	Urgency            Severity   `json:"urgency"`
}

// Validate enforces the probability invariant.
func (h *DiagnosticHypothesis) Validate() error {
	if h.Diagnosis == "" {
		return fmt.Errorf("hypothesis validation: diagnosis is required")
	}
	if h.Probability < 0 || h.Probability > 1 {
		return fmt.Errorf("hypothesis %q: %w", h.Diagnosis, ErrInvalidProbability)
	}
	if h.Urgency != "" && !h.Urgency.IsValid() {
		return fmt.Errorf("hypothesis %q: %w", h.Diagnosis, ErrInvalidSeverity)
	}
	return nil
}

// AnalyzerReport is the sole contract between the specialist analyzers and the
// core. Analyzers may be implemented any way they like as long as they emit
// this shape.
type AnalyzerReport struct {
	Analyzer     string                 `json:"analyzer"`
	Timestamp    time.Time              `json:"timestamp,omitempty"`
	InputSummary string                 `json:"input_summary,omitempty"`
	Diagnoses    map[string]float64     `json:"diagnoses"`
	Confidence   float64                `json:"confidence"`
	Findings     []Finding              `json:"findings,omitempty"`
	Hypotheses   []DiagnosticHypothesis `json:"hypotheses,omitempty"`
	Impression   string                 `json:"primary_impression,omitempty"`
	Limitations  []string               `json:"limitations,omitempty"`
	Recommendations []string            `json:"recommendations,omitempty"`
	Flags        []string               `json:"flags,omitempty"`
	IsDefinitive bool                   `json:"is_definitive"`
}

// Validate enforces the confidence and probability invariants across the report.
func (r *AnalyzerReport) Validate() error {
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("report %q: %w", r.Analyzer, ErrInvalidConfidence)
	}
	for name, p := range r.Diagnoses {
		if p < 0 || p > 1 {
			return fmt.Errorf("report %q diagnosis %q: %w", r.Analyzer, name, ErrInvalidProbability)
		}
	}
	for i := range r.Findings {
		if err := r.Findings[i].Validate(); err != nil {
			return fmt.Errorf("report %q: %w", r.Analyzer, err)
		}
	}
	for i := range r.Hypotheses {
		if err := r.Hypotheses[i].Validate(); err != nil {
			return fmt.Errorf("report %q: %w", r.Analyzer, err)
		}
	}
	return nil
}

// TopDiagnosis returns the highest-probability diagnosis name from the
// diagnosis map, with ties broken by name for determinism. The second return
// is false when the map is empty.
func (r *AnalyzerReport) TopDiagnosis() (string, float64, bool) {
	var (
		best     string
		bestProb float64
		found    bool
	)
	for name, p := range r.Diagnoses {
		if !found || p > bestProb || (p == bestProb && name < best) {
			best, bestProb, found = name, p, true
		}
	}
	return best, bestProb, found
}

// CriticalFindings returns the findings marked critical.
func (r *AnalyzerReport) CriticalFindings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			out = append(out, f)
		}
	}
	return out
}

// HasIncompleteData reports whether the analyzer flagged incomplete input.
func (r *AnalyzerReport) HasIncompleteData() bool {
	for _, f := range r.Flags {
		if containsFold(f, "incomplete") {
			return true
		}
	}
	return false
}
