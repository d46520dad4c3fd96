// Package pidfile guards against running two taskboard servers on the
// same data directory. A stale file left by a crashed process does not
// block a new one.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Pidfile represents an acquired PID file
type Pidfile struct {
	path string
}

// Acquire writes the current PID to path. It fails if the file names a
// process that is still alive; a stale file is replaced.
func Acquire(path string) (*Pidfile, error) {
	if pid, err := readPID(path); err == nil && processAlive(pid) {
		return nil, fmt.Errorf("already running with pid %d (per %s)", pid, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create pidfile directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return nil, fmt.Errorf("failed to write pidfile: %w", err)
	}

	return &Pidfile{path: path}, nil
}

// Release removes the PID file
func (p *Pidfile) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pidfile: %w", err)
	}
	return nil
}

// Path returns the PID file path
func (p *Pidfile) Path() string {
	return p.path
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in pidfile: %w", err)
	}
	return pid, nil
}

// processAlive reports whether a process with the given pid exists.
// Signal 0 performs the existence check without delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
