package gjslog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuulab/gjs/pkg/gjslog"
)

func TestPathSanitizesFunctionName(t *testing.T) {
	p := gjslog.Path("/var/log/gjs", "Report Card!", "abc123.Report(name=Jane)")
	assert.Equal(t, filepath.Join("/var/log/gjs", "Report_Card_", "abc123.Report(name=Jane).log"), p)
}

func TestOpenWritesStartingBanner(t *testing.T) {
	dir := t.TempDir()

	a, err := gjslog.Open(dir, "Addition", "host1.Addition(a=1,b=2)", 0)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	lines, err := gjslog.TailLines(a.Path(), 10)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Starting")
}

func TestOpenAppendsAcrossAttempts(t *testing.T) {
	dir := t.TempDir()

	a0, err := gjslog.Open(dir, "AlwaysFails", "host1.AlwaysFails()", 0)
	require.NoError(t, err)
	a0.Logger().Error().Msg("boom")
	require.NoError(t, a0.Close())

	a1, err := gjslog.Open(dir, "AlwaysFails", "host1.AlwaysFails()", 1)
	require.NoError(t, err)
	require.NoError(t, a1.Close())

	require.Equal(t, a0.Path(), a1.Path())

	lines, err := gjslog.TailLines(a1.Path(), 10)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Starting")
	assert.Contains(t, lines[1], "boom")
	assert.Contains(t, lines[2], "Restarting")
}

func TestTailLinesReturnsOnlyLastN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "many.log")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, _ = f.WriteString("line\n")
	}
	require.NoError(t, f.Close())

	lines, err := gjslog.TailLines(path, 50)
	require.NoError(t, err)
	require.Len(t, lines, 50)
}

func TestTailLinesMissingFileIsEmpty(t *testing.T) {
	lines, err := gjslog.TailLines(filepath.Join(t.TempDir(), "missing.log"), 50)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
