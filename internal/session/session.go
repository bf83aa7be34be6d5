// Package session captures SSH_AUTH_SOCK and DBUS_SESSION_BUS_ADDRESS
// from an interactive desktop session into a small sourceable script,
// and reads them back for non-interactive backup runs.
package session

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh/agent"
)

const (
	VarSSHAuthSock = "SSH_AUTH_SOCK"
	VarDBusAddress = "DBUS_SESSION_BUS_ADDRESS"
)

// Snapshot is the captured value of the two session variables.
type Snapshot struct {
	SSHAuthSock string
	DBusAddress string
	Taken       time.Time
}

// Capture reads the two session variables through getenv. Missing
// variables are captured as empty strings; Missing reports which ones,
// so the caller can apply its own policy.
func Capture(getenv func(string) string, now func() time.Time) Snapshot {
	return Snapshot{
		SSHAuthSock: getenv(VarSSHAuthSock),
		DBusAddress: getenv(VarDBusAddress),
		Taken:       now(),
	}
}

// Missing lists the variables that were empty at capture time.
func (s Snapshot) Missing() []string {
	var missing []string
	if s.SSHAuthSock == "" {
		missing = append(missing, VarSSHAuthSock)
	}
	if s.DBusAddress == "" {
		missing = append(missing, VarDBusAddress)
	}
	return missing
}

// Environ returns the snapshot as environment assignments for a child
// process. Empty values are skipped rather than exported empty.
func (s Snapshot) Environ() map[string]string {
	env := map[string]string{}
	if s.SSHAuthSock != "" {
		env[VarSSHAuthSock] = s.SSHAuthSock
	}
	if s.DBusAddress != "" {
		env[VarDBusAddress] = s.DBusAddress
	}
	return env
}

// Script renders the snapshot as a POSIX shell fragment. Sourcing it
// exports exactly the two captured variables.
func (s Snapshot) Script() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session variables captured by bbackup export-session on %s.\n",
		s.Taken.Format(time.RFC1123))
	b.WriteString("# Sourced by non-interactive backup runs; do not edit.\n")
	fmt.Fprintf(&b, "export %s=%s\n", VarSSHAuthSock, shellquote.Join(s.SSHAuthSock))
	fmt.Fprintf(&b, "export %s=%s\n", VarDBusAddress, shellquote.Join(s.DBusAddress))
	return []byte(b.String())
}

// Write stores the snapshot script at path with mode 0600, replacing
// any previous version. The values grant access to the user's agent
// and session bus, hence the restrictive mode.
func Write(path string, s Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating session script directory: %w", err)
	}
	if err := os.WriteFile(path, s.Script(), 0o600); err != nil {
		return fmt.Errorf("writing session script: %w", err)
	}
	// WriteFile only applies the mode on creation; force it on
	// overwrite too.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting session script mode: %w", err)
	}
	return nil
}

// Read parses a script previously produced by Write back into a
// Snapshot. Lines other than the two exports are ignored.
func Read(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading session script: %w", err)
	}
	var s Snapshot
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "export ") {
			continue
		}
		name, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		words, err := shellquote.Split(value)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parsing session script line %q: %w", line, err)
		}
		unquoted := ""
		if len(words) > 0 {
			unquoted = words[0]
		}
		switch name {
		case VarSSHAuthSock:
			s.SSHAuthSock = unquoted
		case VarDBusAddress:
			s.DBusAddress = unquoted
		}
	}
	return s, nil
}

// ProbeAgent checks that the captured SSH agent socket still answers.
// A stale socket means the desktop session that exported it is gone
// and repository access over SSH will prompt or fail.
func ProbeAgent(sock string) error {
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return fmt.Errorf("dialling ssh agent: %w", err)
	}
	defer conn.Close()

	keys, err := agent.NewClient(conn).List()
	if err != nil {
		return fmt.Errorf("listing ssh agent keys: %w", err)
	}
	if len(keys) == 0 {
		log.Warn("ssh agent is reachable but holds no keys")
	}
	return nil
}
