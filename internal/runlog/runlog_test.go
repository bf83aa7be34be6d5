package runlog_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pont-us/bbackup/internal/runlog"
)

func TestOpenCreatesDirectoryAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "log")

	l, err := runlog.Open(path)
	require.NoError(t, err)
	_, err = io.WriteString(l.Tee(io.Discard), "first run\n")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = runlog.Open(path)
	require.NoError(t, err)
	_, err = io.WriteString(l.Tee(io.Discard), "second run\n")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first run\nsecond run\n", string(raw))
}

func TestTeeDuplicatesToConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	l, err := runlog.Open(path)
	require.NoError(t, err)
	defer l.Close()

	var console bytes.Buffer
	_, err = io.WriteString(l.Tee(&console), "borg says hi\n")
	require.NoError(t, err)

	assert.Equal(t, "borg says hi\n", console.String())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "borg says hi\n", string(raw))
}

func TestTeeSurvivesLogWriteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	l, err := runlog.Open(path)
	require.NoError(t, err)
	// close the file underneath the tee to force write errors
	require.NoError(t, l.Close())

	var console bytes.Buffer
	n, err := io.WriteString(l.Tee(&console), "still visible\n")
	require.NoError(t, err)
	assert.Equal(t, len("still visible\n"), n)
	assert.Equal(t, "still visible\n", console.String())
}

func TestTeeConsoleErrorPropagates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	l, err := runlog.Open(path)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Tee(&brokenWriter{}).Write([]byte("x"))
	assert.Error(t, err)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("console gone")
}
