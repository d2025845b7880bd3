// Package lockfile provides a cross-process exclusive lock backed by a file
// created with O_EXCL.
package lockfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	// StaleLockThreshold is the maximum age of a lock with no readable PID
	// before it's considered stale.
	StaleLockThreshold = 10 * time.Minute
)

var (
	ErrLockExists = errors.New("lock exists: another operation may be in progress")
)

// Lock represents a held lock file.
type Lock struct {
	path string
	file *os.File
}

// Acquire attempts to take the exclusive lock dir/<name>.lock.
// A lock left behind by a dead process, or one without a PID that is older
// than StaleLockThreshold, is reclaimed once.
func Acquire(ctx context.Context, dir, name string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, name+".lock")

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if !isStale(lockPath) {
			return nil, ErrLockExists
		}
		os.Remove(lockPath)
		file, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err != nil {
			return nil, ErrLockExists
		}
	}

	// Write lock metadata (PID and timestamp)
	lockData := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(lockData); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock data: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &Lock{path: lockPath, file: file}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release releases the lock. Calling it more than once is safe.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if l.path != "" {
		path := l.path
		l.path = ""
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
	}

	return nil
}

// isStale reports whether the lock at lockPath can be reclaimed. A lock
// naming a PID is stale only once that process is gone, however old the
// file is. The age threshold applies to locks without a readable PID.
func isStale(lockPath string) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}

	pid, ok := readPID(lockPath)
	if !ok {
		return time.Since(info.ModTime()) > StaleLockThreshold
	}
	if pid == os.Getpid() {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return !exists
}

func readPID(lockPath string) (int, bool) {
	f, err := os.Open(lockPath)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		value, found := strings.CutPrefix(scanner.Text(), "pid=")
		if !found {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || pid <= 0 {
			return 0, false
		}
		return pid, true
	}
	return 0, false
}
