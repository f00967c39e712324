package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesConsoleAndRecordingLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, RecordingLogName)
	var console bytes.Buffer

	logger, closeFn, err := New(Options{LogFile: logPath, Console: &console})
	require.NoError(t, err)

	logger.Info("job complete", zap.String("source", "https://youtu.be/abc"))
	require.NoError(t, closeFn())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "INFO")
	assert.Contains(t, lines[0], "job complete")
	assert.Contains(t, lines[0], "Z\t")
	assert.Contains(t, console.String(), "job complete")
}

func TestNew_AppendsAcrossRuns(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), RecordingLogName)

	for i := 0; i < 2; i++ {
		logger, closeFn, err := New(Options{LogFile: logPath, Console: &bytes.Buffer{}})
		require.NoError(t, err)
		logger.Info("run started")
		require.NoError(t, closeFn())
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "run started"))
}

func TestNew_Level(t *testing.T) {
	var console bytes.Buffer
	logger, closeFn, err := New(Options{Level: "warn", Console: &console})
	require.NoError(t, err)
	defer closeFn()

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")

	_, _, err = New(Options{Level: "loud"})
	assert.Error(t, err)
}
