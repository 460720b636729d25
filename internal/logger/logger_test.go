package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel_FiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Debug("should not appear")
	Info("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestSetLevel_InvalidIgnored(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	SetLevel("BOGUS")

	Info("still info")
	assert.Contains(t, buf.String(), "still info")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("encoding started", KeyTaskID, "t-123", KeyProgress, 42)

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))

	assert.Equal(t, "encoding started", record["msg"])
	assert.Equal(t, "t-123", record[KeyTaskID])
	assert.Equal(t, float64(42), record[KeyProgress])
}

func TestTextFormat_StructuredFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text", false)

	Debug("chunk received", KeyUploadID, "u-1", KeyChunkIndex, 7)

	out := buf.String()
	assert.Contains(t, out, "chunk received")
	assert.Contains(t, out, "upload_id=u-1")
	assert.Contains(t, out, "chunk_index=7")
}

func TestWith_PreBoundFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	l := With(KeyTaskID, "t-9")
	l.Info("progress", KeyProgress, 10)

	out := buf.String()
	assert.Contains(t, out, "task_id=t-9")
	assert.Contains(t, out, "progress=10")
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}
