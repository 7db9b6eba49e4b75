package domain

// Differential is one ranked alternative in a consensus result.
type Differential struct {
	Diagnosis   string  `json:"diagnosis"`
	Probability float64 `json:"probability"`
}

// ConsensusResult is the merged ranking produced by the consensus engine.
type ConsensusResult struct {
	TopDiagnosis       string             `json:"top_diagnosis"`
	Probability        float64            `json:"probability"`
	Confidence         float64            `json:"confidence"`
	AgreementScore     float64            `json:"agreement_score"`
	SupportingAnalyzers []string          `json:"supporting_analyzers"`
	Differentials      []Differential     `json:"differential_diagnoses"`
	Certainty          Certainty          `json:"diagnostic_certainty"`
	MergedLabels       map[string]float64 `json:"merged_labels,omitempty"`
	Urgency            Severity           `json:"urgency"`
	ConfirmedBy        string             `json:"confirmed_by,omitempty"`
	IsDefinitive       bool               `json:"is_definitive"`
}

// CriticalAlert is one must-not-miss condition detected by the safety evaluator.
type CriticalAlert struct {
	Condition      string `json:"condition"`
	MatchedKeyword string `json:"matched_keyword"`
	ActionRequired string `json:"action_required"`
	TimeCritical   bool   `json:"time_critical"`
}

// Contradiction records a significant probability disagreement between
// analyzers on the same diagnosis.
type Contradiction struct {
	Diagnosis    string             `json:"diagnosis"`
	Disagreement map[string]float64 `json:"disagreement"`
	Spread       float64            `json:"spread"`
}

// CalibrationSummary summarizes analyzer confidence calibration.
type CalibrationSummary struct {
	AverageConfidence     float64  `json:"average_confidence"`
	Reliability           string   `json:"reliability"` // high, moderate, low
	LowConfidenceAnalyzers []string `json:"low_confidence_analyzers,omitempty"`
}

// ReviewDecision records whether human review is required and every reason
// that triggered it.
type ReviewDecision struct {
	Needed  bool     `json:"needed"`
	Reasons []string `json:"reasons,omitempty"`
}

// SafetyAssessment is the independent safety re-scan of the raw reports.
// It is produced even when the consensus engine short-circuited on a
// definitive finding.
type SafetyAssessment struct {
	RiskTier       RiskTier           `json:"risk_tier"`
	CriticalAlerts []CriticalAlert    `json:"critical_alerts"`
	Contradictions []Contradiction    `json:"contradictions"`
	Calibration    CalibrationSummary `json:"confidence_assessment"`
	MissingData    []string           `json:"missing_data_analyzers,omitempty"`
	HumanReview    ReviewDecision     `json:"human_review"`
	Flags          []string           `json:"flags,omitempty"`
	Disclaimer     string             `json:"disclaimer"`
}

// EvidenceAttribution links one finding to its contribution to the final
// diagnosis.
type EvidenceAttribution struct {
	EvidenceType string       `json:"evidence_type"`
	Finding      string       `json:"finding"`
	Contribution Contribution `json:"contribution"`
	Weight       float64      `json:"weight"`
	Reasoning    string       `json:"reasoning,omitempty"`
	SourceAnalyzer string     `json:"source_analyzer"`
}

// ReasoningStep is one step of the ordered reasoning chain, one per analyzer
// in fixed clinical-workflow order.
type ReasoningStep struct {
	StepNumber      int      `json:"step_number"`
	Analyzer        string   `json:"analyzer"`
	Action          string   `json:"action"` // confirmed, supported, evaluated
	Description     string   `json:"description"`
	EvidenceUsed    []string `json:"evidence_used,omitempty"`
	Conclusion      string   `json:"conclusion"`
	ConfidenceDelta float64  `json:"confidence_delta"`
}

// ConfidenceDecomposition breaks the final confidence into its components.
type ConfidenceDecomposition struct {
	BaseConfidence  float64  `json:"base_confidence"`
	EvidenceBoost   float64  `json:"evidence_boost"`
	AgreementBoost  float64  `json:"agreement_boost"`
	PenaltyFactors  []string `json:"penalty_factors,omitempty"`
	FinalConfidence float64  `json:"final_confidence"`
	CalibrationNote string   `json:"calibration_note"`
}

// Counterfactual states what evidence would be needed to favor an alternative
// diagnosis. Descriptive only; it never alters the consensus result.
type Counterfactual struct {
	CurrentDiagnosis     string   `json:"current_diagnosis"`
	AlternativeDiagnosis string   `json:"alternative_diagnosis"`
	MissingEvidence      []string `json:"missing_evidence"`
	ContradictingEvidence []string `json:"contradicting_evidence,omitempty"`
}

// ExplanationBundle is the full reproducible explanation of a decision.
type ExplanationBundle struct {
	Diagnosis     string                  `json:"diagnosis"`
	Confidence    float64                 `json:"confidence"`
	Certainty     Certainty               `json:"diagnostic_certainty"`
	Attributions  []EvidenceAttribution   `json:"evidence_attributions"`
	ReasoningChain []ReasoningStep        `json:"reasoning_chain"`
	Decomposition ConfidenceDecomposition `json:"confidence_decomposition"`
	Counterfactuals []Counterfactual      `json:"counterfactuals"`
	OneLine       string                  `json:"one_line_explanation"`
	Detailed      string                  `json:"detailed_explanation"`
}

// DecisionBundle is what the pipeline returns to the caller: the merged
// ranking, the safety assessment, the explanation, and the ledger reference.
// Warnings carry non-fatal failures (e.g. a ledger write that could not
// complete); the decision itself is always best-effort present.
type DecisionBundle struct {
	CaseID      string             `json:"case_id"`
	Consensus   *ConsensusResult   `json:"consensus"`
	Safety      *SafetyAssessment  `json:"safety"`
	Explanation *ExplanationBundle `json:"explanation,omitempty"`
	AuditID     string             `json:"audit_id,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
}
