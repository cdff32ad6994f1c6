package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{
		"":      FormatTable,
		"table": FormatTable,
		"JSON":  FormatJSON,
		"yml":   FormatYAML,
	} {
		got, err := ParseFormat(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{"name", "size"}, [][]string{
		{"a.txt", "5"},
		{"b.txt", "12"},
	})

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "12")
}

func TestPrintJSONAndYAML(t *testing.T) {
	type row struct {
		Name string `json:"name" yaml:"name"`
	}

	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, row{Name: "x"}))
	assert.Contains(t, buf.String(), `"name": "x"`)

	buf.Reset()
	require.NoError(t, PrintYAML(&buf, row{Name: "x"}))
	assert.True(t, strings.Contains(buf.String(), "name: x"))
}
