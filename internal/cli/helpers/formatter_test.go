package helpers

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type row struct {
	PID   uint32 `header:"PID" json:"pid" yaml:"pid"`
	Name  string `header:"NAME" json:"name" yaml:"name"`
	Extra string `json:"-" yaml:"-"`
}

var rows = []row{
	{PID: 3100, Name: "WINWORD.EXE", Extra: "ignored"},
	{PID: 3200, Name: "winword.exe"},
}

func TestNewFormatter(t *testing.T) {
	for _, f := range []OutputFormat{FormatTable, FormatJSON, FormatYAML} {
		got, err := NewFormatter(f)
		require.NoError(t, err, f)
		assert.NotNil(t, got)
	}

	_, err := NewFormatter("csv")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestTableFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(FormatTable, rows, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"PID", "NAME"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"3100", "WINWORD.EXE"}, strings.Fields(lines[1]))
	assert.NotContains(t, buf.String(), "ignored")
}

func TestTableFormatter_PointerRows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(FormatTable, []*row{&rows[0]}, &buf))
	assert.Contains(t, buf.String(), "WINWORD.EXE")
}

func TestTableFormatter_EmptyPrintsHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(FormatTable, []row{}, &buf))
	assert.Equal(t, []string{"PID", "NAME"}, strings.Fields(buf.String()))
}

func TestTableFormatter_Rejects(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Print(FormatTable, rows[0], &buf))
	assert.Error(t, Print(FormatTable, []string{"a"}, &buf))
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(FormatJSON, rows, &buf))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "WINWORD.EXE", got[0]["name"])
	assert.NotContains(t, got[0], "Extra")
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(FormatYAML, rows, &buf))

	var got []row
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []row{{PID: 3100, Name: "WINWORD.EXE"}, {PID: 3200, Name: "winword.exe"}}, got)
}

func TestFormatFlag(t *testing.T) {
	supported := []OutputFormat{FormatTable, FormatJSON}

	var format string
	cmd := &cobra.Command{Use: "x"}
	AddFormatFlag(cmd, &format, FormatTable, supported)
	require.NoError(t, cmd.ParseFlags([]string{"-o", "json"}))
	assert.Equal(t, "json", format)
	assert.NoError(t, ValidateFormat(format, supported))

	err := ValidateFormat("yaml", supported)
	assert.ErrorContains(t, err, `unsupported format "yaml", must be one of: table, json`)
}
