package plan

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyfill/internal/mapping"
	"surveyfill/internal/roster"
)

func fixtures(t *testing.T, csv string) (*mapping.Ruleset, roster.Row) {
	t.Helper()
	rs, err := mapping.Parse([]byte(`
rules:
  - pattern: "first name"
    kind: text
    column: "First"
  - pattern: "devices"
    kind: checkbox
    column: "Devices"
  - pattern: "status"
    kind: dropdown
    column: "Status"
  - pattern: "over 18"
    kind: yesno
    column: "Adult"
`))
	require.NoError(t, err)

	r, err := roster.Parse(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, r.Rows, 1)
	return rs, r.Rows[0]
}

func TestBuildFullRow(t *testing.T) {
	rs, row := fixtures(t, "First,Devices,Status,Adult\nAda,Laptop;Phone,Full-time,Yes\n")

	got := Build(rs, row, "https://example.com/form?token=abc")
	want := []Action{
		{Op: OpNavigate, Target: "https://example.com/form?token=abc"},
		{Op: OpType, Target: "first name", Value: "Ada"},
		{Op: OpCheck, Target: "devices", Values: []string{"Laptop", "Phone"}},
		{Op: OpSelect, Target: "status", Value: "Full-time"},
		{Op: OpClick, Target: "over 18", Value: "Yes"},
		{Op: OpInfo, Note: "advance with Next after each page until the thank-you page"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildEmptyCellsSkip(t *testing.T) {
	rs, row := fixtures(t, "First,Devices,Status,Adult\n,,,\n")

	got := Build(rs, row, "u")
	require.Len(t, got, 6)
	for _, a := range got[1:5] {
		assert.Equal(t, OpSkip, a.Op)
		assert.NotEmpty(t, a.Note)
	}
}

func TestBuildOtherFreeText(t *testing.T) {
	rs, row := fixtures(t, "First,Devices,Status,Adult\n,Other: abacus,,\n")

	got := Build(rs, row, "u")
	var check, typed *Action
	for i := range got {
		switch got[i].Op {
		case OpCheck:
			check = &got[i]
		case OpType:
			typed = &got[i]
		}
	}
	require.NotNil(t, check)
	assert.Equal(t, []string{roster.OtherLabel}, check.Values)
	require.NotNil(t, typed)
	assert.Equal(t, "abacus", typed.Value)
	assert.Contains(t, typed.Note, "free text")
}

func TestBuildFlagsUnreferencedColumns(t *testing.T) {
	rs, err := mapping.Parse([]byte("rules:\n  - pattern: name\n    kind: text\n    column: First\n"))
	require.NoError(t, err)

	r, err := roster.Parse(strings.NewReader("First,Forgotten\nAda,x\n"))
	require.NoError(t, err)

	got := Build(rs, r.Rows[0], "u")
	var notes []string
	for _, a := range got {
		if a.Op == OpInfo {
			notes = append(notes, a.Note)
		}
	}
	require.Len(t, notes, 2)
	assert.Contains(t, notes[0], "Forgotten")
	assert.NotContains(t, notes[0], "First,")
}

func TestActionString(t *testing.T) {
	assert.Contains(t, Action{Op: OpNavigate, Target: "u"}.String(), "navigate")
	assert.Contains(t, Action{Op: OpCheck, Target: "p", Values: []string{"a", "b"}}.String(), "a; b")
	assert.Contains(t, Action{Op: OpType, Target: "p", Value: "v"}.String(), `"v"`)
	assert.Contains(t, Action{Op: OpSkip, Target: "p", Note: "n"}.String(), "skip")
	assert.Contains(t, Action{Op: OpInfo, Note: "n"}.String(), "info")
	assert.Contains(t, Action{Op: OpClick, Target: "p", Value: "v"}.String(), "click")
}
