// Package ledger implements the tamper-evident audit trail: an append-only,
// hash-chained record of every diagnosis and every error, with after-the-fact
// integrity verification and date-ranged export.
//
// Wire format: one JSONL file per day (audit_YYYYMMDD.jsonl), one
// self-describing JSON object per line. Each entry embeds the previous
// entry's hash; the first entry of a file has a null previous_hash. Entry
// hashes are SHA-256 over the canonicalized (recursively key-sorted) entry,
// truncated to 16 hex characters: a 64-bit tag kept for compatibility with
// the existing ledger format, deliberately not widened here.
//
// Raw clinical input is never stored: only a content hash plus a truncated
// preview (input-hash privacy rule).
package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	entryHashLen = 16
	inputHashLen = 32
	previewLen   = 100

	// Fixed-width fractional seconds so lexicographic order of timestamps is
	// chronological order; range queries compare strings directly.
	timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one audit record as persisted. Immutable once written.
type Entry struct {
	AuditID        string         `json:"audit_id"`
	Timestamp      string         `json:"timestamp"`
	EventType      string         `json:"event_type"`
	CaseID         string         `json:"case_id"`
	FinalDiagnosis string         `json:"final_diagnosis,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`
	Certainty      string         `json:"diagnostic_certainty,omitempty"`
	AnalyzersUsed  []string       `json:"analyzers_used,omitempty"`
	EvidenceCount  int            `json:"evidence_count,omitempty"`
	CriticalFlags  []string       `json:"critical_flags,omitempty"`
	InputHash      string         `json:"input_hash,omitempty"`
	ErrorType      string         `json:"error_type,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	PreviousHash   *string        `json:"previous_hash"`
	EntryHash      string         `json:"entry_hash"`
}

// DiagnosisRecord is what the pipeline hands the ledger for a completed
// decision.
type DiagnosisRecord struct {
	CaseID         string
	FinalDiagnosis string
	Confidence     float64
	Certainty      string
	AnalyzersUsed  []string
	EvidenceCount  int
	CriticalFlags  []string
	Input          map[string]string
	Payload        map[string]any
}

// VerifyResult reports the outcome of a chain integrity check.
type VerifyResult struct {
	Valid         bool   `json:"valid"`
	Entries       int    `json:"entries"`
	BrokenAtEntry int    `json:"broken_at_entry"` // -1 when valid
	Message       string `json:"message"`
}

// Ledger owns the head hash and the current segment file. All appends are
// serialized behind one mutex: read-head-then-write is a critical section,
// and two concurrent writers racing on the head would both claim the same
// previous_hash.
type Ledger struct {
	mu      sync.Mutex
	logger  *logrus.Logger
	dir     string
	segment string // current segment path, fixed at startup
	head    *string
	now     func() time.Time
}

// New opens (or creates) the ledger directory, selects today's segment and
// recovers the chain head from its last line.
func New(logger *logrus.Logger, dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	l := &Ledger{
		logger: logger,
		dir:    dir,
		now:    time.Now,
	}
	l.segment = filepath.Join(dir, fmt.Sprintf("audit_%s.jsonl", l.now().UTC().Format("20060102")))

	if err := l.loadHead(); err != nil {
		return nil, err
	}
	return l, nil
}

// loadHead recovers the head hash from the tail of the current segment.
func (l *Ledger) loadHead() error {
	f, err := os.Open(l.segment)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open ledger segment: %w", err)
	}
	defer f.Close()

	var lastLine string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lastLine = line
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read ledger segment: %w", err)
	}
	if lastLine == "" {
		return nil
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lastLine), &entry); err != nil {
		return fmt.Errorf("failed to decode last ledger entry: %w", err)
	}
	if h, ok := entry["entry_hash"].(string); ok && h != "" {
		l.head = &h
	}
	return nil
}

// AppendDiagnosis records a completed diagnostic decision and returns the
// audit ID.
func (l *Ledger) AppendDiagnosis(rec DiagnosisRecord) (string, error) {
	auditID := "AUDIT-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])

	inputHash, inputPreview := HashInput(rec.Input)
	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payload["input_summary"] = inputPreview

	entry := &Entry{
		AuditID:        auditID,
		Timestamp:      l.now().UTC().Format(timestampFormat),
		EventType:      "diagnosis",
		CaseID:         rec.CaseID,
		FinalDiagnosis: rec.FinalDiagnosis,
		Confidence:     rec.Confidence,
		Certainty:      rec.Certainty,
		AnalyzersUsed:  rec.AnalyzersUsed,
		EvidenceCount:  rec.EvidenceCount,
		CriticalFlags:  rec.CriticalFlags,
		InputHash:      inputHash,
		Payload:        payload,
	}

	if err := l.append(entry); err != nil {
		return "", err
	}

	l.logger.WithFields(logrus.Fields{
		"audit_id":  auditID,
		"case_id":   rec.CaseID,
		"diagnosis": rec.FinalDiagnosis,
	}).Info("Diagnosis recorded in audit ledger")

	return auditID, nil
}

// AppendError records a failure event in the same chain.
func (l *Ledger) AppendError(caseID, errorType, message string, context map[string]any) (string, error) {
	auditID := "ERROR-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])

	entry := &Entry{
		AuditID:      auditID,
		Timestamp:    l.now().UTC().Format(timestampFormat),
		EventType:    "error",
		CaseID:       caseID,
		ErrorType:    errorType,
		ErrorMessage: message,
		Payload:      context,
	}

	if err := l.append(entry); err != nil {
		return "", err
	}
	return auditID, nil
}

// append links the entry to the chain head, hashes it and persists it. The
// whole read-head/compute/write sequence holds the lock.
func (l *Ledger) append(entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.PreviousHash = l.head

	canonical, err := canonicalize(entry)
	if err != nil {
		return fmt.Errorf("failed to canonicalize entry: %w", err)
	}
	delete(canonical, "entry_hash")
	hash, err := computeHash(canonical)
	if err != nil {
		return fmt.Errorf("failed to hash entry: %w", err)
	}
	canonical["entry_hash"] = hash

	line, err := json.Marshal(canonical)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	f, err := os.OpenFile(l.segment, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger segment: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}

	entry.EntryHash = hash
	l.head = &hash
	return nil
}

// Verify replays the current segment in file order, checking both the
// previous-hash linkage and each entry's recomputed content hash. Detection
// only; a broken chain is reported, never repaired.
func (l *Ledger) Verify() (*VerifyResult, error) {
	return l.VerifyFile(l.segment)
}

// VerifyFile verifies one ledger segment. The check needs no knowledge of the
// producing process: it operates purely on the line-delimited format.
func (l *Ledger) VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &VerifyResult{Valid: true, BrokenAtEntry: -1, Message: "No ledger segment exists"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger segment: %w", err)
	}
	defer f.Close()

	var previousHash *string
	index := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		broken := &VerifyResult{
			Valid:         false,
			Entries:       index + 1,
			BrokenAtEntry: index,
			Message:       fmt.Sprintf("Chain broken at entry %d", index),
		}

		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return broken, nil
		}

		prev, _ := entry["previous_hash"].(string)
		switch {
		case previousHash == nil && entry["previous_hash"] != nil:
			return broken, nil
		case previousHash != nil && prev != *previousHash:
			return broken, nil
		}

		stored, _ := entry["entry_hash"].(string)
		delete(entry, "entry_hash")
		computed, err := computeHash(entry)
		if err != nil || stored != computed {
			return broken, nil
		}

		previousHash = &stored
		index++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger segment: %w", err)
	}

	return &VerifyResult{
		Valid:         true,
		Entries:       index,
		BrokenAtEntry: -1,
		Message:       "Chain verified successfully",
	}, nil
}

// EntriesForCase scans every segment for entries belonging to one case.
// Read-only; never mutates ledger state.
func (l *Ledger) EntriesForCase(caseID string) ([]Entry, error) {
	var entries []Entry
	err := l.scanSegments(func(e Entry) {
		if e.CaseID == caseID {
			entries = append(entries, e)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
	return entries, nil
}

// ExportDocument is the date-ranged compliance export format.
type ExportDocument struct {
	ExportTimestamp string  `json:"export_timestamp"`
	EntriesCount    int     `json:"entries_count"`
	DateRange       struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"date_range"`
	Entries []Entry `json:"entries"`
}

// Export collects entries whose timestamps fall in [start, end] (RFC-3339
// strings; empty means unbounded) across all segments.
func (l *Ledger) Export(start, end string) (*ExportDocument, error) {
	doc := &ExportDocument{
		ExportTimestamp: l.now().UTC().Format(timestampFormat),
		Entries:         []Entry{},
	}
	doc.DateRange.Start = start
	doc.DateRange.End = end

	err := l.scanSegments(func(e Entry) {
		if start != "" && e.Timestamp < start {
			return
		}
		if end != "" && e.Timestamp > end {
			return
		}
		doc.Entries = append(doc.Entries, e)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(doc.Entries, func(i, j int) bool { return doc.Entries[i].Timestamp < doc.Entries[j].Timestamp })
	doc.EntriesCount = len(doc.Entries)
	return doc, nil
}

// Head returns the current chain head hash, empty when the ledger is empty.
func (l *Ledger) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.head == nil {
		return ""
	}
	return *l.head
}

// scanSegments visits every entry in every segment in filename order.
// Undecodable lines are skipped: queries are best-effort reads, integrity
// questions belong to Verify.
func (l *Ledger) scanSegments(visit func(Entry)) error {
	pattern := filepath.Join(l.dir, "audit_*.jsonl")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("failed to list ledger segments: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open ledger segment %s: %w", path, err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var entry Entry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				continue
			}
			visit(entry)
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to read ledger segment %s: %w", path, err)
		}
	}
	return nil
}

// HashInput hashes raw clinical input for PHI-safe storage and returns a
// bounded preview per field. The full text never reaches the ledger.
func HashInput(input map[string]string) (string, map[string]string) {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	preview := make(map[string]string, len(input))
	for _, k := range keys {
		v := input[k]
		fmt.Fprintf(h, "%s=%s\n", k, v)
		if len(v) > previewLen {
			v = v[:previewLen] + "..."
		}
		preview[k] = v
	}
	return hex.EncodeToString(h.Sum(nil))[:inputHashLen], preview
}

// canonicalize round-trips a value through JSON so every nested object becomes
// a map, which encoding/json marshals with sorted keys at every level. That
// makes append-time hashing and verify-time rehashing byte-identical.
func canonicalize(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func computeHash(m map[string]any) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:entryHashLen], nil
}
