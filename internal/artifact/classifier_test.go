package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decision struct {
	Path    string
	Rotated bool
}

func counterNext() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("script-%d", n)
	}
}

func observeAll(lines []string) []decision {
	s := NewSession()
	next := counterNext()
	out := make([]decision, 0, len(lines))
	for _, l := range lines {
		p, r := s.Observe(l, next)
		out = append(out, decision{Path: p, Rotated: r})
	}
	return out
}

func TestSession_RotationPoints(t *testing.T) {
	got := observeAll([]string{"Attribute A", "Attribute B", "Sub x()", "Attribute C"})

	want := []decision{
		{Path: "script-1", Rotated: true},
		{Path: "script-1", Rotated: false},
		{Path: "script-1", Rotated: false},
		{Path: "script-2", Rotated: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decisions mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_FirstLineBodyStillCreatesPath(t *testing.T) {
	got := observeAll([]string{"x = 1", "y = 2", "Attribute VB_Name = \"M\"", "Attribute VB_Base = \"0\"", "z = 3"})

	want := []decision{
		{Path: "script-1", Rotated: true},
		{Path: "script-1", Rotated: false},
		{Path: "script-2", Rotated: true},
		{Path: "script-2", Rotated: false},
		{Path: "script-2", Rotated: false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decisions mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_DeterministicAcrossSessions(t *testing.T) {
	lines := []string{
		"Attribute VB_Name = \"ThisDocument\"",
		"Private Sub Document_Open()",
		"End Sub",
		"Attribute VB_Name = \"Module1\"",
		"Attribute VB_Creatable = False",
		"Sub Helper()",
		"Dim attrs As String",
		"  Attribute x",
	}

	first := observeAll(lines)
	second := observeAll(lines)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("two fresh sessions disagree (-first +second):\n%s", diff)
	}
}

func TestSession_MarkerIsCaseSensitivePrefix(t *testing.T) {
	assert.True(t, IsMetadata("Attribute VB_Name"))
	assert.True(t, IsMetadata("Attributes"))
	assert.False(t, IsMetadata("attribute VB_Name"))
	assert.False(t, IsMetadata(" Attribute"))
	assert.False(t, IsMetadata(""))
}

func TestSession_Accessors(t *testing.T) {
	s := NewSession()
	assert.Empty(t, s.Path())
	assert.True(t, s.InMetadata())

	s.Observe("x = 1", counterNext())
	assert.Equal(t, "script-1", s.Path())
	assert.False(t, s.InMetadata())
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestClassifier_AppendsLinesInOrder(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 19, 14, 30, 5, 0, time.Local)
	c := NewClassifier(NewSession(), NewNamer(dir, fixedClock(now)), zerolog.Nop())

	p1, err := c.Classify("Attribute VB_Name")
	require.NoError(t, err)
	p2, err := c.Classify("x = 1")
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, filepath.Join(dir, "2026101914305.vbs"), p1)

	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "Attribute VB_Name\nx = 1\n", string(data))
}

func TestClassifier_RotationWithinSameSecond(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	c := NewClassifier(NewSession(), NewNamer(dir, fixedClock(now)), zerolog.Nop())

	p1, err := c.Classify("Attribute A")
	require.NoError(t, err)
	_, err = c.Classify("Sub a()")
	require.NoError(t, err)
	p2, err := c.Classify("Attribute B")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "202612345.vbs"), p1)
	assert.Equal(t, filepath.Join(dir, "202612345-1.vbs"), p2)

	first, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "Attribute A\nSub a()\n", string(first))

	second, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, "Attribute B\n", string(second))
}

func TestClassifier_AppendFailureReturnsPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does-not-exist")
	c := NewClassifier(NewSession(), NewNamer(dir, nil), zerolog.Nop())

	path, err := c.Classify("x = 1")
	require.Error(t, err)
	assert.NotEmpty(t, path)
}
