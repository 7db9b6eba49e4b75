// Package service orchestrates the decision pipeline: parse raw analyzer
// output at the boundary, merge it into a consensus, run the safety re-scan
// and explanation compilation, and record the decision in the audit ledger.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/madnx-diagnostic-core/internal/config"
	"github.com/madnx-diagnostic-core/internal/consensus"
	"github.com/madnx-diagnostic-core/internal/domain"
	"github.com/madnx-diagnostic-core/internal/explain"
	"github.com/madnx-diagnostic-core/internal/ledger"
	"github.com/madnx-diagnostic-core/internal/safety"
)

const decisionCacheSize = 1024

// Pipeline runs one case through the full decision path. Safe for concurrent
// use; all stages are stateless per request.
type Pipeline struct {
	logger    *logrus.Logger
	parser    *domain.ReportParser
	engine    *consensus.Engine
	evaluator *safety.Evaluator
	compiler  *explain.Compiler
	audit     *ledger.Ledger
	breaker   *gobreaker.CircuitBreaker
	cache     *lru.Cache[string, *domain.DecisionBundle]
}

// NewPipeline wires the decision stages together.
func NewPipeline(logger *logrus.Logger, cfg *config.Config, audit *ledger.Ledger) (*Pipeline, error) {
	evaluator, err := safety.NewEvaluator(logger, cfg.Safety)
	if err != nil {
		return nil, fmt.Errorf("failed to build safety evaluator: %w", err)
	}

	cache, err := lru.New[string, *domain.DecisionBundle](decisionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build decision cache: %w", err)
	}

	// The ledger is local disk I/O, but a full or failing volume must not
	// stall every request behind repeated write attempts.
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "audit-ledger",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Audit ledger circuit breaker state changed")
		},
	})

	return &Pipeline{
		logger:    logger,
		parser:    domain.NewReportParser(),
		engine:    consensus.NewEngine(logger, cfg.Consensus),
		evaluator: evaluator,
		compiler:  explain.NewCompiler(logger, cfg.Explain),
		audit:     audit,
		breaker:   breaker,
		cache:     cache,
	}, nil
}

// Diagnose runs the complete pipeline for one case. The returned bundle is
// always best-effort complete: parse failures and ledger outages surface as
// warnings, not errors. Only a cancelled context aborts the decision.
func (p *Pipeline) Diagnose(ctx context.Context, caseID string, rawReports map[string]any, input map[string]string) (*domain.DecisionBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if caseID == "" {
		caseID = "CASE-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	}

	// A repeated submission of identical input for the same case returns the
	// original decision, audit ID included; no second ledger entry is written
	// for a replay. The key is scoped to the case so that a different case
	// carrying identical content still gets its own audit entry.
	key := cacheKey(caseID, rawReports, input)
	if cached, ok := p.cache.Get(key); ok {
		p.logger.WithFields(logrus.Fields{
			"case_id":  caseID,
			"audit_id": cached.AuditID,
		}).Debug("Decision served from cache")
		return cached, nil
	}

	var warnings []string
	reports := make(map[string]*domain.AnalyzerReport, len(rawReports))
	for _, analyzer := range sortedKeys(rawReports) {
		report, perr := p.parser.Parse(analyzer, rawReports[analyzer])
		if perr != nil {
			warnings = append(warnings, perr.Error())
			p.logger.WithFields(logrus.Fields{
				"case_id":  caseID,
				"analyzer": analyzer,
				"reason":   perr.Reason,
			}).Warn("Analyzer report unparseable, default report substituted")
			p.recordError(caseID, "parse_failure", perr.Error(), map[string]any{
				"analyzer": perr.Analyzer,
				"preview":  perr.Preview,
			})
		}
		reports[analyzer] = report
	}

	merged := p.engine.Merge(reports)

	// Safety and explanation read the same inputs and never write them.
	var (
		wg          sync.WaitGroup
		assessment  *domain.SafetyAssessment
		explanation *domain.ExplanationBundle
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		assessment = p.evaluator.Evaluate(reports)
	}()
	go func() {
		defer wg.Done()
		explanation = p.compiler.Compile(explain.Input{
			Reports:       reports,
			Diagnosis:     merged.TopDiagnosis,
			Confidence:    merged.Confidence,
			IsDefinitive:  merged.IsDefinitive,
			Differentials: differentialNames(merged.Differentials),
		})
	}()
	wg.Wait()

	bundle := &domain.DecisionBundle{
		CaseID:      caseID,
		Consensus:   merged,
		Safety:      assessment,
		Explanation: explanation,
		Warnings:    warnings,
	}

	auditID, err := p.recordDecision(caseID, reports, bundle, input)
	if err != nil {
		bundle.Warnings = append(bundle.Warnings, fmt.Sprintf("audit trail unavailable: %v", err))
		p.logger.WithError(err).WithField("case_id", caseID).Error("Failed to record decision in audit ledger")
	} else {
		bundle.AuditID = auditID
		// Only audited decisions are cached: a bundle that missed the ledger
		// must run again on resubmission so the trail gets its entry once the
		// ledger recovers.
		p.cache.Add(key, bundle)
	}

	p.logger.WithFields(logrus.Fields{
		"case_id":      caseID,
		"diagnosis":    merged.TopDiagnosis,
		"confidence":   merged.Confidence,
		"risk_tier":    assessment.RiskTier,
		"needs_review": assessment.HumanReview.Needed,
		"audit_id":     bundle.AuditID,
	}).Info("Diagnostic decision complete")

	return bundle, nil
}

// recordDecision appends the decision to the ledger through the circuit
// breaker and returns the audit ID.
func (p *Pipeline) recordDecision(caseID string, reports map[string]*domain.AnalyzerReport, bundle *domain.DecisionBundle, input map[string]string) (string, error) {
	analyzers := sortedReportKeys(reports)
	evidenceCount := 0
	for _, name := range analyzers {
		evidenceCount += len(reports[name].Findings)
	}

	result, err := p.breaker.Execute(func() (any, error) {
		return p.audit.AppendDiagnosis(ledger.DiagnosisRecord{
			CaseID:         caseID,
			FinalDiagnosis: bundle.Consensus.TopDiagnosis,
			Confidence:     bundle.Consensus.Confidence,
			Certainty:      bundle.Consensus.Certainty.String(),
			AnalyzersUsed:  analyzers,
			EvidenceCount:  evidenceCount,
			CriticalFlags:  bundle.Safety.Flags,
			Input:          input,
			Payload: map[string]any{
				"consensus":   bundle.Consensus,
				"safety":      bundle.Safety,
				"explanation": bundle.Explanation.OneLine,
			},
		})
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// recordError appends an error event through the breaker; failures here are
// logged and dropped, never propagated.
func (p *Pipeline) recordError(caseID, errorType, message string, context map[string]any) {
	_, err := p.breaker.Execute(func() (any, error) {
		return p.audit.AppendError(caseID, errorType, message, context)
	})
	if err != nil {
		p.logger.WithError(err).WithField("case_id", caseID).Warn("Failed to record error event in audit ledger")
	}
}

// cacheKey derives a stable key from the case ID, the raw reports and the
// input. encoding/json marshals map keys sorted, so identical submissions
// hash identically.
func cacheKey(caseID string, rawReports map[string]any, input map[string]string) string {
	h := sha256.New()
	h.Write([]byte(caseID))
	h.Write([]byte{0})
	if b, err := json.Marshal(rawReports); err == nil {
		h.Write(b)
	}
	h.Write([]byte{0})
	if b, err := json.Marshal(input); err == nil {
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func differentialNames(differentials []domain.Differential) []string {
	names := make([]string, 0, len(differentials))
	for _, d := range differentials {
		names = append(names, d.Diagnosis)
	}
	return names
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedReportKeys(m map[string]*domain.AnalyzerReport) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
