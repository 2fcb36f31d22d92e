package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "json", input: "json", want: FormatJSON},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yaml", input: "yaml", want: FormatYAML},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  table  ", want: FormatTable},
		{name: "invalid format", input: "csv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "table", FormatTable.String())
	assert.Equal(t, "json", FormatJSON.String())
	assert.Equal(t, "yaml", FormatYAML.String())
}

func TestPrinterPrintTableRenderer(t *testing.T) {
	var buf bytes.Buffer
	printer := NewPrinter(&buf, FormatTable, false)

	table := NewTableData("ID", "Storage")
	table.AddRow("docs", "s3")
	table.AddRow("chat", "telegram")

	require.NoError(t, printer.Print(table))
	assert.Contains(t, buf.String(), "docs")
	assert.Contains(t, buf.String(), "telegram")
}

func TestPrinterPrintFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	printer := NewPrinter(&buf, FormatTable, false)

	// Not a TableRenderer, so table mode serializes it instead.
	require.NoError(t, printer.Print(map[string]string{"upload_id": "u-1"}))
	assert.Contains(t, buf.String(), `"upload_id"`)
}

func TestPrinterPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	printer := NewPrinter(&buf, FormatJSON, false)

	require.NoError(t, printer.Print(map[string]int{"total": 3}))
	assert.Contains(t, buf.String(), `"total": 3`)
}

func TestPrinterMessages(t *testing.T) {
	var buf bytes.Buffer
	printer := NewPrinter(&buf, FormatTable, false)

	printer.Println("watching job", "job-1")
	printer.Success("upload aborted")
	printer.Error("session expired")
	printer.Warning("index not ready")

	out := buf.String()
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "upload aborted")
	assert.Contains(t, out, "session expired")
	assert.Contains(t, out, "index not ready")
}

func TestDefaultPrinter(t *testing.T) {
	printer := DefaultPrinter()
	require.NotNil(t, printer)
	assert.Equal(t, FormatTable, printer.Format())
	assert.True(t, printer.ColorEnabled())
}
