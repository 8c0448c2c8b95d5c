// Package instance keeps a single daemon per user session.
//
// The guard is an exclusive flock on a lock file. The kernel drops the lock
// when the holder dies, so a stale lock file never blocks a new daemon; only a
// live holder does. The pid file is informational and feeds status output.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by Acquire when another process holds the lock.
var ErrAlreadyRunning = errors.New("another audiorouter daemon is already running")

// Guard owns the lock and pid files.
type Guard struct {
	lockPath string
	pidPath  string

	mu   sync.Mutex
	lock *flock.Flock
	held bool
}

// New returns a guard for the given lock and pid file locations.
func New(lockPath, pidPath string) *Guard {
	return &Guard{
		lockPath: lockPath,
		pidPath:  pidPath,
		lock:     flock.New(lockPath),
	}
}

// LockPath returns the lock file location.
func (g *Guard) LockPath() string { return g.lockPath }

// Acquire takes the lock without blocking and records the current PID. It
// returns ErrAlreadyRunning (wrapped with the holder PID when known) if
// another live process holds it.
func (g *Guard) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(g.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := g.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		if pid, pidErr := ReadPID(g.pidPath); pidErr == nil && pid > 0 {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		return ErrAlreadyRunning
	}
	if err := writePID(g.pidPath); err != nil {
		_ = g.lock.Unlock()
		return fmt.Errorf("write pid file: %w", err)
	}
	g.held = true
	return nil
}

// Held reports whether this guard currently owns the lock.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Release removes the pid file and unlocks. Safe to call when not held.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return nil
	}
	g.held = false
	if err := os.Remove(g.pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = g.lock.Unlock()
		return fmt.Errorf("remove pid file: %w", err)
	}
	return g.lock.Unlock()
}

// HolderPID returns the PID recorded by the current holder, or 0 when the
// lock is free or the pid file is missing.
func (g *Guard) HolderPID() int {
	g.mu.Lock()
	held := g.held
	g.mu.Unlock()
	if held {
		return os.Getpid()
	}

	probe := flock.New(g.lockPath)
	ok, err := probe.TryLock()
	if err == nil && ok {
		_ = probe.Unlock()
		return 0
	}
	pid, err := ReadPID(g.pidPath)
	if err != nil {
		return 0
	}
	return pid
}

// ReadPID parses a pid file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %q: %w", path, err)
	}
	return pid, nil
}

// ProcessAlive reports whether a process with pid exists. EPERM means it
// exists but belongs to another user.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func writePID(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
