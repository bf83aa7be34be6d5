// Package runlog manages the per-run log file that captures the
// backup engine's output, and the tee that keeps that output visible
// on the console at the same time.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Log is one run's open log file.
type Log struct {
	file *os.File
	path string
}

// Open opens the run log in append mode, creating the log directory
// if needed. Rotation of previous content is logrotate's job, not ours.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	return &Log{file: f, path: path}, nil
}

func (l *Log) Path() string {
	return l.path
}

// Tee returns a writer that duplicates writes to the run log and the
// console. A failing log write must not interrupt the backup, so the
// log side absorbs its own errors.
func (l *Log) Tee(console io.Writer) io.Writer {
	return io.MultiWriter(console, &failsafeWriter{w: l.file, name: l.path})
}

func (l *Log) Close() error {
	return l.file.Close()
}

// failsafeWriter reports every write as successful, logging the first
// underlying failure. Used for the log side of the tee only.
type failsafeWriter struct {
	w        io.Writer
	name     string
	reported bool
}

func (f *failsafeWriter) Write(p []byte) (int, error) {
	if _, err := f.w.Write(p); err != nil && !f.reported {
		f.reported = true
		log.WithError(err).WithField("log", f.name).Error("run log writes are failing; output continues on console only")
	}
	return len(p), nil
}
