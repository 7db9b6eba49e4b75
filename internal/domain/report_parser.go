package domain

import (
	"encoding/json"
	"strings"
)

// ReportParser is the single ingestion boundary for analyzer output. An
// analyzer may hand the core a structured AnalyzerReport, a JSON document, or
// free text with an embedded JSON object. Anything that cannot be decoded
// becomes a default report (no diagnoses, zero confidence) tagged with a
// ParseError; the decision pipeline continues instead of failing.
type ReportParser struct{}

// NewReportParser creates the boundary parser.
func NewReportParser() *ReportParser {
	return &ReportParser{}
}

// Parse normalizes one raw analyzer output into an AnalyzerReport. The
// returned ParseError is nil when decoding succeeded; otherwise it describes
// why the default report was substituted.
func (p *ReportParser) Parse(analyzer string, raw any) (*AnalyzerReport, *ParseError) {
	switch v := raw.(type) {
	case *AnalyzerReport:
		if v == nil {
			return defaultReport(analyzer), NewParseError(analyzer, "nil report", "")
		}
		return withAnalyzer(v, analyzer), nil
	case AnalyzerReport:
		return withAnalyzer(&v, analyzer), nil
	case json.RawMessage:
		return p.parseText(analyzer, string(v))
	case []byte:
		return p.parseText(analyzer, string(v))
	case string:
		return p.parseText(analyzer, v)
	case map[string]any:
		// Re-encode loosely typed input through the same decode path.
		b, err := json.Marshal(v)
		if err != nil {
			return defaultReport(analyzer), NewParseError(analyzer, "unencodable map input", "")
		}
		return p.parseText(analyzer, string(b))
	case nil:
		return defaultReport(analyzer), NewParseError(analyzer, "missing report", "")
	default:
		return defaultReport(analyzer), NewParseError(analyzer, "unsupported report type", "")
	}
}

// parseText attempts a structured decode of text, falling back to the first
// embedded JSON object when the analyzer wrapped its payload in prose.
func (p *ReportParser) parseText(analyzer, text string) (*AnalyzerReport, *ParseError) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return defaultReport(analyzer), NewParseError(analyzer, "empty report", "")
	}

	var report AnalyzerReport
	if err := json.Unmarshal([]byte(trimmed), &report); err == nil {
		return withAnalyzer(&report, analyzer), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &report); err == nil {
			return withAnalyzer(&report, analyzer), nil
		}
	}

	return defaultReport(analyzer), NewParseError(analyzer, "no decodable JSON payload", trimmed)
}

// withAnalyzer fills the analyzer identity when the payload omitted it and
// guarantees a non-nil diagnosis map.
func withAnalyzer(r *AnalyzerReport, analyzer string) *AnalyzerReport {
	if r.Analyzer == "" {
		r.Analyzer = analyzer
	}
	if r.Diagnoses == nil {
		r.Diagnoses = map[string]float64{}
	}
	return r
}

func defaultReport(analyzer string) *AnalyzerReport {
	return &AnalyzerReport{
		Analyzer:   analyzer,
		Diagnoses:  map[string]float64{},
		Confidence: 0,
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
