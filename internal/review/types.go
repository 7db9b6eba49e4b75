// Package review stores clinician review outcomes for flagged decisions.
// Every decision the safety evaluator escalates gets exactly one review row,
// keyed by case ID; re-reviews update the row in place.
package review

import (
	"context"
	"io"
	"time"
)

// Outcome is the reviewing clinician's verdict on a system decision.
type Outcome string

const (
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeOverridden Outcome = "overridden"
	OutcomeDeferred   Outcome = "deferred"
)

// Review represents one clinician review of a flagged decision.
type Review struct {
	ID               int64     `json:"id,omitempty"`
	CaseID           string    `json:"case_id"`
	AuditID          string    `json:"audit_id"`
	SystemDiagnosis  string    `json:"system_diagnosis"`
	SystemConfidence float64   `json:"system_confidence"`
	Outcome          Outcome   `json:"outcome"`
	FinalDiagnosis   string    `json:"final_diagnosis,omitempty"` // set when overridden
	Reviewer         string    `json:"reviewer"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Store defines the interface for review storage operations.
type Store interface {
	// Save stores or updates the review for a case. A case has at most one
	// review; saving again replaces the verdict.
	Save(ctx context.Context, review *Review) error

	// Get retrieves the review for a case, nil when none exists.
	Get(ctx context.Context, caseID string) (*Review, error)

	// List returns reviews ordered newest first, with pagination.
	List(ctx context.Context, limit, offset int) ([]*Review, error)

	// Count returns the total number of reviews.
	Count(ctx context.Context) (int64, error)

	// ExportJSON writes all reviews as a JSON document.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// Close releases store resources.
	Close() error
}

// Export is the JSON export format.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Reviews    []*Review `json:"reviews"`
}
