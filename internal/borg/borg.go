// Package borg drives the external borg binary. All repository
// semantics (deduplication, encryption, locking, resumability) are
// borg's own; this package only assembles argument lists and the child
// environment.
package borg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/pont-us/bbackup/internal/config"
)

// RunFunc executes one external command. The default runs it locally;
// tests substitute a recording fake.
type RunFunc func(name string, args []string, env []string, stdout, stderr io.Writer) error

// Engine invokes borg against a single repository with a fixed extra
// environment (passphrase and session variables).
type Engine struct {
	Repository string

	// Env is injected into each borg child process on top of the
	// parent environment. Never logged.
	Env map[string]string

	// Output receives everything borg writes, on both streams.
	Output io.Writer

	DryRun bool

	// Run defaults to local subprocess execution.
	Run RunFunc
}

// Create makes a new archive named <prefix>{now} from the given
// source paths.
func (e *Engine) Create(prefix, compression, excludeFile string, sources []string) error {
	args := []string{
		"create",
		"--verbose",
		"--filter", "AME-x",
		"--list",
		"--stats",
		"--show-rc",
		"--compression", compression,
		"--exclude-caches",
		"--exclude-from", excludeFile,
	}
	if e.DryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, "::"+prefix+"{now}")
	args = append(args, sources...)
	return e.exec(e.Output, args...)
}

// Prune applies the retention policy. The prefix restricts pruning to
// this machine's archives when several hosts share the repository.
func (e *Engine) Prune(policy config.Prune, prefix string) error {
	args := []string{
		"prune",
		"--list",
		"--prefix", prefix,
		"--show-rc",
		"--keep-daily", strconv.Itoa(policy.KeepDaily),
		"--keep-weekly", strconv.Itoa(policy.KeepWeekly),
		"--keep-monthly", strconv.Itoa(policy.KeepMonthly),
	}
	if e.DryRun {
		args = append(args, "--dry-run")
	}
	return e.exec(e.Output, args...)
}

// Compact reclaims space freed by pruning. borg compact has no dry-run
// mode, so dry runs skip it entirely.
func (e *Engine) Compact() error {
	if e.DryRun {
		log.Info("dry run: skipping borg compact")
		return nil
	}
	return e.exec(e.Output, "compact", "--show-rc")
}

// List writes borg's archive listing to w. Used by borgplot; read-only.
func (e *Engine) List(w io.Writer) error {
	return e.exec(w, "list")
}

func (e *Engine) exec(stdout io.Writer, args ...string) error {
	cmdline := "borg " + strings.Join(args, " ")
	log.WithField("cmd", cmdline).Info("running backup engine")
	if _, err := io.WriteString(e.Output, "$ "+cmdline+"\n"); err != nil {
		log.WithError(err).Debug("could not write command banner to run log")
	}

	run := e.Run
	if run == nil {
		run = runLocal
	}
	if err := run("borg", args, e.environ(), stdout, e.Output); err != nil {
		return fmt.Errorf("borg %s: %w", args[0], err)
	}
	return nil
}

// environ builds the child environment: the parent environment plus
// the repository location and the injected credentials/session values.
func (e *Engine) environ() []string {
	env := append(os.Environ(),
		"BORG_REPO="+e.Repository,
		"BORG_RELOCATED_REPO_ACCESS_IS_OK=yes",
	)
	keys := make([]string, 0, len(e.Env))
	for k := range e.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+e.Env[k])
	}
	return env
}

func runLocal(name string, args []string, env []string, stdout, stderr io.Writer) error {
	cmd := exec.Command(name, args...) // #nosec G204
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// Describe maps a step result to borg's exit-code convention: 0 is
// success, 1 is warnings, anything else is an error.
func Describe(err error) string {
	if err == nil {
		return "successfully"
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) && exit.ExitCode() == 1 {
		return "with warnings"
	}
	return "with errors"
}
