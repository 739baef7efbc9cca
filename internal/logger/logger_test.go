package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestLogger_LevelsGoToTheirFiles(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	l, err := New(dir, &console)
	require.NoError(t, err)
	defer l.Close()

	l.Info("camera %s online", "cam0")
	l.Warning("queue full for %s", "cam1")
	l.Error("seal failed: %v", os.ErrClosed)
	l.Debug("not persisted")

	assert.Contains(t, readLog(t, dir, InfoFile), "camera cam0 online")
	assert.NotContains(t, readLog(t, dir, InfoFile), "queue full")
	assert.Contains(t, readLog(t, dir, WarningFile), "queue full for cam1")
	assert.Contains(t, readLog(t, dir, ErrorFile), "seal failed")

	for _, name := range []string{InfoFile, WarningFile, ErrorFile} {
		assert.NotContains(t, readLog(t, dir, name), "not persisted")
	}
	assert.Contains(t, console.String(), "camera cam0 online")
}

func TestLogger_WithAddsField(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, nil)
	require.NoError(t, err)
	defer l.Close()

	l.With("camera", "cam3").Info("frame written")

	content := readLog(t, dir, InfoFile)
	assert.Contains(t, content, `"camera":"cam3"`)
	assert.Contains(t, content, "frame written")
}

func TestLogger_CleanLogs(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, nil)
	require.NoError(t, err)
	defer l.Close()

	l.Warning("to be removed")
	require.NoError(t, l.CleanLogs(WarningFile))
	assert.Empty(t, readLog(t, dir, WarningFile))
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("ignored %d", 1)
	l.With("camera", "x").Error("ignored")
	assert.NoError(t, l.Close())
	assert.NoError(t, l.CleanLogs(InfoFile))
}
