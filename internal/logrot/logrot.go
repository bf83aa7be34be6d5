// Package logrot triggers the external logrotate binary for the run
// log. Rotation policy lives entirely in the profile's logrotate.conf;
// this package only points logrotate at it.
package logrot

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	ConfFileName  = "logrotate.conf"
	StateFileName = "logrotate-state"
)

// RunFunc executes logrotate in the given working directory. Tests
// substitute a recording fake.
type RunFunc func(dir string, args []string, stdout, stderr io.Writer) error

// Rotator invokes logrotate with the profile directory as working
// directory, so relative paths in logrotate.conf resolve there.
type Rotator struct {
	// Dir is the profile directory holding logrotate.conf.
	Dir   string
	Debug bool

	Run RunFunc
}

// Rotate archives the current run log. Output goes to the console
// only: the run log itself is being rotated underneath us.
func (r Rotator) Rotate(console io.Writer) error {
	args := []string{"--verbose", "--state", StateFileName}
	if r.Debug {
		// logrotate's debug mode implies no state change, matching a
		// --dry-run backup.
		args = append(args, "--debug")
	}
	args = append(args, ConfFileName)

	log.WithField("cmd", "logrotate "+strings.Join(args, " ")).Info("rotating run log")

	run := r.Run
	if run == nil {
		run = runLocal
	}
	if err := run(r.Dir, args, console, console); err != nil {
		return fmt.Errorf("logrotate: %w", err)
	}
	return nil
}

func runLocal(dir string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.Command("logrotate", args...) // #nosec G204
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}
