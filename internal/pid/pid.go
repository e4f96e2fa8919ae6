// Package pid guards against concurrent daemon instances with a pid file.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/simtempd/internal/errors"
)

const (
	pidFile = "simtempd.pid"
)

// Path returns the pid file location.
func Path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write writes the current process ID to a PID file. A pid file naming a
// live process rejects the start; a stale or unreadable one is replaced.
func Write() error {
	errFactory := errors.New()
	path := Path()

	if bytes, err := os.ReadFile(path); err == nil {
		if prev, err := strconv.Atoi(strings.TrimSpace(string(bytes))); err == nil {
			if process, err := os.FindProcess(prev); err == nil {
				if process.Signal(syscall.Signal(0)) == nil {
					return errFactory.WithData(errors.ErrAlreadyRunning, prev)
				}
			}
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func Remove() error {
	errFactory := errors.New()

	if _, err := os.Stat(Path()); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(Path()); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
