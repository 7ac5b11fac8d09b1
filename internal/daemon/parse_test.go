package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Chichichkin/ddlogs/internal/logging"
)

func TestParseLine_Plain(t *testing.T) {
	line := parseLine("just text")
	assert.Equal(t, "just text", line.Message)
	assert.Equal(t, "stdout", line.Stream)
	assert.Equal(t, logging.LevelInfo, line.Level)
}

func TestParseLine_DockerJSON(t *testing.T) {
	line := parseLine(`{"log":"boom\n","stream":"stderr","time":"2024-05-01T10:00:00Z"}`)
	assert.Equal(t, "boom", line.Message)
	assert.Equal(t, "stderr", line.Stream)
	assert.Equal(t, logging.LevelError, line.Level)
}

func TestParseLine_DockerJSONWithAppJSON(t *testing.T) {
	line := parseLine(`{"log":"{\"severity\":\"DEBUG\",\"message\":\"cache miss\",\"dd.trace_id\":\"5\"}\n","stream":"stdout"}`)
	assert.Equal(t, "cache miss", line.Message)
	assert.Equal(t, logging.LevelDebug, line.Level)
	assert.Equal(t, "5", line.TraceID)
}

func TestParseLine_CRI(t *testing.T) {
	line := parseLine("2024-05-01T10:00:00.123456789Z stderr F connection refused")
	assert.Equal(t, "connection refused", line.Message)
	assert.Equal(t, "stderr", line.Stream)
	assert.Equal(t, logging.LevelError, line.Level)

	notCRI := parseLine("hello stdout F world")
	assert.Equal(t, "hello stdout F world", notCRI.Message)
}

func TestParseLine_AppJSONUnknownLevel(t *testing.T) {
	line := parseLine(`{"level":"chatty","msg":"hi"}`)
	assert.Equal(t, "hi", line.Message)
	assert.Equal(t, logging.LevelInfo, line.Level)
}

func TestParseLine_BrokenJSON(t *testing.T) {
	line := parseLine(`{"log":`)
	assert.Equal(t, `{"log":`, line.Message)
	assert.Equal(t, logging.LevelInfo, line.Level)
}
