package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenLogOutput_StderrOnly(t *testing.T) {
	var stderr bytes.Buffer
	out, err := OpenLogOutput(LogFileConfig{}, &stderr)
	require.NoError(t, err)
	defer out.Close()

	NewLogger(InfoLevel, out).Info("hello")
	assert.Contains(t, stderr.String(), "hello")
	assert.NoError(t, out.Rotate())
}

func TestOpenLogOutput_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "traffic-stats.log")

	var stderr bytes.Buffer
	out, err := OpenLogOutput(LogFileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2}, &stderr)
	require.NoError(t, err)

	NewLogger(InfoLevel, out).WithField("repository", "soprano").Info("collected")
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"repository":"soprano"`))
	assert.Contains(t, stderr.String(), "collected", "file output must not replace stderr")
}
