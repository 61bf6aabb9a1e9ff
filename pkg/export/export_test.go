package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Dataset {
	return Dataset{
		Title:   "Weekly journal summary",
		Summary: []string{"Submission rate: 75%"},
		Headers: []string{"Day", "Student", "Reflection"},
		Rows: [][]string{
			{"2025-04-10", "s-1", "good day, played \"tag\""},
			{"2025-04-10", "s-2", strings.Repeat("long text ", 40)},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestCSVRender(t *testing.T) {
	out, err := RendererFor(FormatCSV).Render(sample())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, utf8BOM))
	body := string(out[len(utf8BOM):])
	assert.True(t, strings.HasPrefix(body, "Day,Student,Reflection\n"))
	assert.Contains(t, body, `"good day, played ""tag"""`)
}

func TestPDFRender(t *testing.T) {
	out, err := RendererFor(FormatPDF).Render(sample())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderRejectsRaggedRows(t *testing.T) {
	data := sample()
	data.Rows = append(data.Rows, []string{"only one"})
	_, err := NewCSVExporter().Render(data)
	assert.Error(t, err)
	_, err = NewPDFExporter().Render(Dataset{})
	assert.Error(t, err)
}
