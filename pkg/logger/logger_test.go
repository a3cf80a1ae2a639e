package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")
	require.NoError(t, Init(Config{Level: "debug", OutputPaths: []string{out}}))
	t.Cleanup(func() { _ = Sync() })

	WithTrace(Named("router"), "trace-1").Debug("routed", "targets", 2)
	require.NoError(t, Sync())

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	line := string(raw)
	assert.Contains(t, line, `"component":"router"`)
	assert.Contains(t, line, `"trace_id":"trace-1"`)
	assert.Contains(t, line, `"msg":"routed"`)
}

func TestAuditFallsBackToAppLogger(t *testing.T) {
	require.NoError(t, Init(Config{OutputPaths: []string{"discard"}}))
	assert.Same(t, L(), Audit())
}

func TestRotatingWriterShiftsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w, err := newRotatingWriter(path, 1, 2, 1)
	require.NoError(t, err)
	w.maxBytes = 16
	defer w.Close()

	for i := 0; i < 4; i++ {
		_, err := w.Write([]byte(strings.Repeat("x", 10)))
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".2")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "INFO", parseLevel("bogus").String())
}
