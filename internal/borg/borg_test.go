package borg_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pont-us/bbackup/internal/borg"
	"github.com/pont-us/bbackup/internal/config"
)

type call struct {
	name string
	args []string
	env  []string
}

type recorder struct {
	calls []call
	fail  map[string]error // keyed by borg subcommand
}

func (r *recorder) run(name string, args []string, env []string, stdout, stderr io.Writer) error {
	r.calls = append(r.calls, call{name: name, args: args, env: env})
	if err, ok := r.fail[args[0]]; ok {
		return err
	}
	io.WriteString(stdout, args[0]+" output\n")
	return nil
}

func newEngine(rec *recorder, out io.Writer) *borg.Engine {
	return &borg.Engine{
		Repository: "ssh://backup@host/./repo",
		Env: map[string]string{
			"BORG_PASSPHRASE": "hunter2",
			"SSH_AUTH_SOCK":   "/run/user/1000/ssh",
		},
		Output: out,
		Run:    rec.run,
	}
}

func TestCreateArguments(t *testing.T) {
	rec := &recorder{}
	var out bytes.Buffer
	e := newEngine(rec, &out)

	err := e.Create("myhost-", "auto,zstd", "/cfg/exclude.txt", []string{"/home/me"})
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)

	c := rec.calls[0]
	assert.Equal(t, "borg", c.name)
	assert.Equal(t, "create", c.args[0])
	joined := strings.Join(c.args, " ")
	assert.Contains(t, joined, "--compression auto,zstd")
	assert.Contains(t, joined, "--exclude-from /cfg/exclude.txt")
	assert.Contains(t, joined, "::myhost-{now}")
	assert.Equal(t, "/home/me", c.args[len(c.args)-1])
	assert.NotContains(t, joined, "--dry-run")
}

func TestCreateDryRun(t *testing.T) {
	rec := &recorder{}
	e := newEngine(rec, io.Discard)
	e.DryRun = true

	require.NoError(t, e.Create("h-", "lz4", "/x", []string{"/home"}))
	assert.Contains(t, rec.calls[0].args, "--dry-run")
}

func TestPruneArguments(t *testing.T) {
	rec := &recorder{}
	e := newEngine(rec, io.Discard)

	policy := config.Prune{KeepDaily: 7, KeepWeekly: 4, KeepMonthly: 6}
	require.NoError(t, e.Prune(policy, "myhost-"))

	joined := strings.Join(rec.calls[0].args, " ")
	assert.Contains(t, joined, "--prefix myhost-")
	assert.Contains(t, joined, "--keep-daily 7")
	assert.Contains(t, joined, "--keep-weekly 4")
	assert.Contains(t, joined, "--keep-monthly 6")
}

func TestCompactSkippedOnDryRun(t *testing.T) {
	rec := &recorder{}
	e := newEngine(rec, io.Discard)
	e.DryRun = true

	require.NoError(t, e.Compact())
	assert.Empty(t, rec.calls)
}

func TestEnvironCarriesRepoAndInjectedValues(t *testing.T) {
	rec := &recorder{}
	e := newEngine(rec, io.Discard)

	require.NoError(t, e.Compact())
	env := rec.calls[0].env
	assert.Contains(t, env, "BORG_REPO=ssh://backup@host/./repo")
	assert.Contains(t, env, "BORG_PASSPHRASE=hunter2")
	assert.Contains(t, env, "SSH_AUTH_SOCK=/run/user/1000/ssh")
	assert.Contains(t, env, "BORG_RELOCATED_REPO_ACCESS_IS_OK=yes")
}

func TestOutputCarriesBannerAndSubprocessOutput(t *testing.T) {
	rec := &recorder{}
	var out bytes.Buffer
	e := newEngine(rec, &out)

	require.NoError(t, e.Create("h-", "lz4", "/x", []string{"/home"}))
	assert.Contains(t, out.String(), "$ borg create")
	assert.Contains(t, out.String(), "create output")
}

func TestListWritesToGivenWriterOnly(t *testing.T) {
	rec := &recorder{}
	var runLog, listing bytes.Buffer
	e := newEngine(rec, &runLog)

	require.NoError(t, e.List(&listing))
	assert.Contains(t, listing.String(), "list output")
	assert.NotContains(t, runLog.String(), "list output")
}

func TestFailedStepReturnsWrappedError(t *testing.T) {
	rec := &recorder{fail: map[string]error{"create": errors.New("exit status 2")}}
	e := newEngine(rec, io.Discard)

	err := e.Create("h-", "lz4", "/x", []string{"/home"})
	assert.ErrorContains(t, err, "borg create")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "successfully", borg.Describe(nil))
	assert.Equal(t, "with errors", borg.Describe(errors.New("boom")))
}
