package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type sampleStatus struct {
	Mount  string `json:"mount" yaml:"mount"`
	Status string `json:"status" yaml:"status"`
	Files  int    `json:"files" yaml:"files"`
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	err := PrintJSON(&buf, sampleStatus{Mount: "docs", Status: "ready", Files: 42})
	require.NoError(t, err)

	var decoded sampleStatus
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "docs", decoded.Mount)
	assert.Equal(t, 42, decoded.Files)

	// Indented output
	assert.Contains(t, buf.String(), "\n  ")
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	err := PrintYAML(&buf, sampleStatus{Mount: "media", Status: "building"})
	require.NoError(t, err)

	var decoded sampleStatus
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "media", decoded.Mount)
	assert.Equal(t, "building", decoded.Status)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "5.0 MiB", FormatBytes(5*1024*1024))
	assert.Equal(t, "1.5 GiB", FormatBytes(3*512*1024*1024))
}
