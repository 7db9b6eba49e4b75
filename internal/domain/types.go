// Package domain contains the shared evidence and report model for the
// multi-analyzer diagnostic consensus core. Every analyzer emits an
// AnalyzerReport; the consensus engine, safety evaluator, explainability
// compiler and audit ledger all consume and produce these types.
//
// Enumerated values are closed sets checked with IsValid wherever they drive
// branching, so an unhandled value surfaces as a validation error instead of
// silently falling through.
package domain

import "errors"

// EvidenceType classifies the source modality of a piece of clinical evidence.
type EvidenceType string

const (
	EvidenceImaging      EvidenceType = "imaging"
	EvidenceECG          EvidenceType = "ecg"
	EvidenceLab          EvidenceType = "laboratory"
	EvidenceSymptom      EvidenceType = "symptom"
	EvidenceVitalSign    EvidenceType = "vital_sign"
	EvidencePhysicalExam EvidenceType = "physical_exam"
	EvidenceHistory      EvidenceType = "history"
)

// EvidenceStrength grades how strongly a piece of evidence supports a finding,
// from pathognomonic down to an expected finding that is absent.
type EvidenceStrength string

const (
	StrengthDefinitive EvidenceStrength = "definitive"
	StrengthStrong     EvidenceStrength = "strong"
	StrengthModerate   EvidenceStrength = "moderate"
	StrengthWeak       EvidenceStrength = "weak"
	StrengthAbsent     EvidenceStrength = "absent"
)

// Severity is the clinical severity of a finding or the urgency of a hypothesis.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityModerate Severity = "moderate"
	SeverityLow      Severity = "low"
	SeverityNormal   Severity = "normal"
)

// Certainty is the qualitative certainty tag attached to a consensus result.
type Certainty string

const (
	CertaintyConfirmed Certainty = "confirmed"
	CertaintyProbable  Certainty = "probable"
	CertaintyPossible  Certainty = "possible"
	CertaintyUncertain Certainty = "uncertain"
)

// RiskTier is the overall urgency classification assigned by the safety evaluator.
type RiskTier string

const (
	RiskCritical RiskTier = "critical"
	RiskHigh     RiskTier = "high"
	RiskModerate RiskTier = "moderate"
	RiskLow      RiskTier = "low"
)

// Contribution grades how much a single piece of evidence contributed to the
// final diagnosis in the explanation bundle.
type Contribution string

const (
	ContributionDecisive Contribution = "decisive"
	ContributionStrong   Contribution = "strong"
	ContributionModerate Contribution = "moderate"
	ContributionWeak     Contribution = "weak"
	ContributionNeutral  Contribution = "neutral"
	ContributionOpposing Contribution = "opposing"
)

// EventType distinguishes audit ledger entry kinds.
type EventType string

const (
	EventDiagnosis EventType = "diagnosis"
	EventError     EventType = "error"
)

// Validation errors shared across the model.
var (
	ErrInvalidProbability = errors.New("probability must be in [0,1]")
	ErrInvalidConfidence  = errors.New("confidence must be in [0,1]")
	ErrInvalidSeverity    = errors.New("invalid severity")
	ErrInvalidStrength    = errors.New("invalid evidence strength")
	ErrInvalidRiskTier    = errors.New("invalid risk tier")
)

// IsValid reports whether the evidence type is one of the closed set.
func (t EvidenceType) IsValid() bool {
	switch t {
	case EvidenceImaging, EvidenceECG, EvidenceLab, EvidenceSymptom,
		EvidenceVitalSign, EvidencePhysicalExam, EvidenceHistory:
		return true
	default:
		return false
	}
}

func (t EvidenceType) String() string { return string(t) }

// IsValid reports whether the strength is one of the closed set.
func (s EvidenceStrength) IsValid() bool {
	switch s {
	case StrengthDefinitive, StrengthStrong, StrengthModerate, StrengthWeak, StrengthAbsent:
		return true
	default:
		return false
	}
}

func (s EvidenceStrength) String() string { return string(s) }

// IsValid reports whether the severity is one of the closed set.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityModerate, SeverityLow, SeverityNormal:
		return true
	default:
		return false
	}
}

func (s Severity) String() string { return string(s) }

// AttributionWeight maps severity to the evidence-attribution weight used by
// the explainability compiler. Exhaustive over the closed set; unknown values
// get the weakest weight so a new severity cannot silently inflate an
// explanation.
func (s Severity) AttributionWeight() float64 {
	switch s {
	case SeverityCritical:
		return 0.8
	case SeverityHigh:
		return 0.6
	case SeverityModerate:
		return 0.4
	case SeverityLow, SeverityNormal:
		return 0.2
	default:
		return 0.2
	}
}

// IsValid reports whether the certainty tag is one of the closed set.
func (c Certainty) IsValid() bool {
	switch c {
	case CertaintyConfirmed, CertaintyProbable, CertaintyPossible, CertaintyUncertain:
		return true
	default:
		return false
	}
}

func (c Certainty) String() string { return string(c) }

// CertaintyForConfidence maps a final confidence to its certainty tag for
// non-definitive results.
func CertaintyForConfidence(confidence float64) Certainty {
	switch {
	case confidence >= 0.8:
		return CertaintyProbable
	case confidence >= 0.5:
		return CertaintyPossible
	default:
		return CertaintyUncertain
	}
}

// IsValid reports whether the risk tier is one of the closed set.
func (r RiskTier) IsValid() bool {
	switch r {
	case RiskCritical, RiskHigh, RiskModerate, RiskLow:
		return true
	default:
		return false
	}
}

func (r RiskTier) String() string { return string(r) }

// RequiresHumanReview reports whether this tier alone mandates human review.
func (r RiskTier) RequiresHumanReview() bool {
	return r == RiskCritical || r == RiskHigh
}

func (c Contribution) String() string { return string(c) }

func (e EventType) String() string { return string(e) }

// IsValid reports whether the event type is one of the closed set.
func (e EventType) IsValid() bool {
	return e == EventDiagnosis || e == EventError
}
