package ledger

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir := t.TempDir()
	l, err := New(logger, dir)
	require.NoError(t, err)
	return l, dir
}

func appendSample(t *testing.T, l *Ledger, caseID, diagnosis string) string {
	t.Helper()
	auditID, err := l.AppendDiagnosis(DiagnosisRecord{
		CaseID:         caseID,
		FinalDiagnosis: diagnosis,
		Confidence:     0.85,
		Certainty:      "probable",
		AnalyzersUsed:  []string{"cardiologist", "radiologist"},
		EvidenceCount:  3,
		Input:          map[string]string{"imaging": "chest CT with contrast"},
		Payload:        map[string]any{"note": "test"},
	})
	require.NoError(t, err)
	return auditID
}

func TestAppendAndVerify(t *testing.T) {
	l, _ := newTestLedger(t)

	id1 := appendSample(t, l, "CASE-1", "Pneumonia")
	id2 := appendSample(t, l, "CASE-2", "Pulmonary Embolism")
	id3 := appendSample(t, l, "CASE-3", "STEMI")

	assert.True(t, strings.HasPrefix(id1, "AUDIT-"))
	assert.NotEqual(t, id1, id2)
	assert.NotEqual(t, id2, id3)

	result, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 3, result.Entries)
	assert.Equal(t, -1, result.BrokenAtEntry)
}

func TestVerify_EmptyLedger(t *testing.T) {
	l, _ := newTestLedger(t)

	result, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Zero(t, result.Entries)
}

func TestVerify_TamperDetected(t *testing.T) {
	l, dir := newTestLedger(t)

	appendSample(t, l, "CASE-1", "Pneumonia")
	appendSample(t, l, "CASE-2", "Pulmonary Embolism")
	appendSample(t, l, "CASE-3", "STEMI")

	// Flip the recorded diagnosis of the middle entry on disk.
	segments, err := filepath.Glob(filepath.Join(dir, "audit_*.jsonl"))
	require.NoError(t, err)
	require.Len(t, segments, 1)

	raw, err := os.ReadFile(segments[0])
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), "Pulmonary Embolism", "Pulmonary Embolus!", 1)
	require.NotEqual(t, string(raw), tampered)
	require.NoError(t, os.WriteFile(segments[0], []byte(tampered), 0o644))

	result, err := l.Verify()
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 1, result.BrokenAtEntry)
}

func TestVerify_LinkageBreakDetected(t *testing.T) {
	l, dir := newTestLedger(t)

	appendSample(t, l, "CASE-1", "Pneumonia")
	appendSample(t, l, "CASE-2", "STEMI")

	segments, err := filepath.Glob(filepath.Join(dir, "audit_*.jsonl"))
	require.NoError(t, err)
	raw, err := os.ReadFile(segments[0])
	require.NoError(t, err)

	// Delete the first line; the second entry's previous_hash now dangles.
	lines := strings.SplitN(strings.TrimSpace(string(raw)), "\n", 2)
	require.Len(t, lines, 2)
	require.NoError(t, os.WriteFile(segments[0], []byte(lines[1]+"\n"), 0o644))

	result, err := l.Verify()
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 0, result.BrokenAtEntry)
}

func TestHeadRecoveredOnReopen(t *testing.T) {
	l, dir := newTestLedger(t)

	appendSample(t, l, "CASE-1", "Pneumonia")
	head := l.Head()
	require.NotEmpty(t, head)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	reopened, err := New(logger, dir)
	require.NoError(t, err)
	assert.Equal(t, head, reopened.Head())

	// Appends after reopen continue the same chain.
	appendSample(t, reopened, "CASE-2", "STEMI")
	result, err := reopened.Verify()
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.Entries)
}

func TestAppendError(t *testing.T) {
	l, _ := newTestLedger(t)

	id, err := l.AppendError("CASE-9", "parse_failure", "unparseable report", map[string]any{"analyzer": "radiologist"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "ERROR-"))

	result, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, result.Valid)

	entries, err := l.EntriesForCase("CASE-9")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].EventType)
	assert.Equal(t, "parse_failure", entries[0].ErrorType)
}

func TestEntriesForCase(t *testing.T) {
	l, _ := newTestLedger(t)

	appendSample(t, l, "CASE-A", "Pneumonia")
	appendSample(t, l, "CASE-B", "STEMI")
	appendSample(t, l, "CASE-A", "Pneumonia")

	entries, err := l.EntriesForCase("CASE-A")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "CASE-A", e.CaseID)
	}

	none, err := l.EntriesForCase("CASE-MISSING")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExport(t *testing.T) {
	l, _ := newTestLedger(t)

	appendSample(t, l, "CASE-1", "Pneumonia")
	appendSample(t, l, "CASE-2", "STEMI")

	t.Run("unbounded", func(t *testing.T) {
		doc, err := l.Export("", "")
		require.NoError(t, err)
		assert.Equal(t, 2, doc.EntriesCount)
		assert.Len(t, doc.Entries, 2)
		assert.NotEmpty(t, doc.ExportTimestamp)
	})

	t.Run("range excludes everything", func(t *testing.T) {
		doc, err := l.Export("1999-01-01T00:00:00Z", "1999-12-31T00:00:00Z")
		require.NoError(t, err)
		assert.Zero(t, doc.EntriesCount)
		assert.Empty(t, doc.Entries)
	})
}

func TestInputPrivacy(t *testing.T) {
	l, dir := newTestLedger(t)

	secret := strings.Repeat("sensitive clinical narrative ", 20)
	_, err := l.AppendDiagnosis(DiagnosisRecord{
		CaseID:         "CASE-1",
		FinalDiagnosis: "Pneumonia",
		Input:          map[string]string{"history": secret},
	})
	require.NoError(t, err)

	segments, err := filepath.Glob(filepath.Join(dir, "audit_*.jsonl"))
	require.NoError(t, err)
	raw, err := os.ReadFile(segments[0])
	require.NoError(t, err)

	assert.NotContains(t, string(raw), secret, "raw input must never be persisted in full")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	hash, _ := entry["input_hash"].(string)
	assert.Len(t, hash, inputHashLen)
}

func TestHashInput(t *testing.T) {
	input := map[string]string{
		"imaging": "chest CT",
		"history": strings.Repeat("x", 300),
	}

	hash1, preview := HashInput(input)
	hash2, _ := HashInput(map[string]string{"history": strings.Repeat("x", 300), "imaging": "chest CT"})

	assert.Equal(t, hash1, hash2, "hash must be independent of map order")
	assert.Len(t, hash1, inputHashLen)
	assert.Equal(t, "chest CT", preview["imaging"])
	assert.Len(t, preview["history"], previewLen+3) // truncated plus ellipsis
	assert.True(t, strings.HasSuffix(preview["history"], "..."))

	hash3, _ := HashInput(map[string]string{"imaging": "chest MRI"})
	assert.NotEqual(t, hash1, hash3)
}

func TestEntryHashFormat(t *testing.T) {
	l, dir := newTestLedger(t)
	appendSample(t, l, "CASE-1", "Pneumonia")

	segments, err := filepath.Glob(filepath.Join(dir, "audit_*.jsonl"))
	require.NoError(t, err)
	raw, err := os.ReadFile(segments[0])
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))

	hash, ok := entry["entry_hash"].(string)
	require.True(t, ok)
	assert.Len(t, hash, entryHashLen)
	assert.Nil(t, entry["previous_hash"], "first entry of a segment links to null")
}
