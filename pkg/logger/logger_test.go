package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesConsoleAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "copilot.log")
	require.NoError(t, Init(Config{Level: "debug", OutputFile: path, MaxSize: 1, NoColor: true, Console: &buf}))
	t.Cleanup(func() { logrus.SetOutput(os.Stderr) })

	WithField("component", "test").Info("hello")
	logrus.WithField("component", "global").Debug("from global")

	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "from global")
	assert.Equal(t, path, GetCurrentLogFile())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "component=test")
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: "nope", NoColor: true, Console: &buf}))
	t.Cleanup(func() { logrus.SetOutput(os.Stderr) })

	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
	Logger.Debug("hidden")
	assert.NotContains(t, buf.String(), "hidden")
}
