package report

import (
	"bytes"
	"errors"
	"testing"

	"roster-scan/internal/diag"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary(t *testing.T) {
	outcomes := []Outcome{
		{Document: "mars", Output: "out/planning_03-2024.xlsx", Days: 31},
		{Document: "avril", Err: errors.New("document avril: title: empty title")},
	}
	items := []diag.Diagnostic{
		{Kind: diag.KindAmbiguousCell, Document: "mars", Page: 0, Unit: "NUI", Row: 1, Day: 4, Message: "Ana matches N, J (mean color #7F7F7F)"},
		{Kind: diag.KindDocumentFailed, Document: "avril", Page: -1, Row: -1, Day: -1, Err: errors.New("empty title")},
	}

	var buf bytes.Buffer
	require.NoError(t, Summary(&buf, outcomes, items))
	out := buf.String()

	assert.Contains(t, out, "2 document(s), 1 failed, 2 diagnostic(s)")
	assert.Contains(t, out, "✓ mars")
	assert.Contains(t, out, "31 day(s) -> out/planning_03-2024.xlsx")
	assert.Contains(t, out, "✗ avril")
	assert.Contains(t, out, "AmbiguousCell")
	assert.Contains(t, out, "[AmbiguousCell] mars page 0 unit NUI row 1 day 4: Ana matches N, J (mean color #7F7F7F)")
	assert.Contains(t, out, "[DocumentFailed] avril: empty title")
}

func TestSummary_NoDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Summary(&buf, []Outcome{{Document: "mars", Days: 2}}, nil))
	assert.Contains(t, buf.String(), "1 document(s), 0 failed, 0 diagnostic(s)")
	assert.NotContains(t, buf.String(), "[")
}
