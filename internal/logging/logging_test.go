package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "docfusion.log")

	logger, cleanup, err := Setup(Config{
		Level:     "info",
		FilePath:  logPath,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)

	logger.Info("ingest complete", "documents", 3)
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &entry))
	assert.Equal(t, "ingest complete", entry["msg"])
	assert.Equal(t, float64(3), entry["documents"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestSetupRespectsLevel(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	logger, cleanup, err := Setup(Config{Level: "error", FilePath: logPath})
	require.NoError(t, err)

	logger.Info("should be filtered")
	logger.Error("should appear")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should be filtered")
	assert.Contains(t, string(data), "should appear")
}

func TestSetupNoFile(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "info"})
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, logger)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelFromString("debug"))
	assert.Equal(t, slog.LevelInfo, LevelFromString("info"))
	assert.Equal(t, slog.LevelWarn, LevelFromString("warn"))
	assert.Equal(t, slog.LevelWarn, LevelFromString("WARNING"))
	assert.Equal(t, slog.LevelError, LevelFromString("error"))
	assert.Equal(t, slog.LevelInfo, LevelFromString("bogus"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/data")
	assert.Equal(t, filepath.Join("/data", "logs", "docfusion.log"), cfg.FilePath)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)
}

func TestRotatingWriterRotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")

	// 0 MB max size forces a rotation on every write past the first byte.
	w, err := NewRotatingWriter(logPath, 0, 2)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 4; i++ {
		_, err = w.Write([]byte("0123456789\n"))
		require.NoError(t, err)
	}

	// Current file plus at most maxFiles rotated ones.
	matches, err := filepath.Glob(filepath.Join(dir, "app.log*"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(matches), 2)
	assert.LessOrEqual(t, len(matches), 3)

	_, err = os.Stat(logPath + ".1")
	assert.NoError(t, err)
}

func TestRotatingWriterAppends(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")

	w, err := NewRotatingWriter(logPath, 10, 2)
	require.NoError(t, err)
	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	// Reopening appends instead of truncating.
	w, err = NewRotatingWriter(logPath, 10, 2)
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}
