package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.log")
	require.NoError(t, Setup(path))

	Infof("processing %s", "photo.jpg")
	Warnf("cascade file missing")
	Errorf("decode failed: %v", os.ErrNotExist)
	Debugf("candidate score %.2f", 0.42)
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "INFO: processing photo.jpg")
	assert.Contains(t, content, "WARNING: cascade file missing")
	assert.Contains(t, content, "ERROR: decode failed")
	assert.Contains(t, content, "candidate score 0.42")
	assert.Contains(t, content, "log closed")
}

func TestLoggingWithoutSetup(t *testing.T) {
	// Debugf and Warnf are file-only; without Setup they must be silent
	// no-ops rather than panics.
	Debugf("dropped %d candidates", 3)
	Warnf("no reference object")
	Infof("fallback to stderr is fine")
}
