// Package filelock provides the advisory lock that scopes one writing
// session per assessment database. The store itself copes with concurrent
// access via busy_timeout; the lock exists so two local editing sessions on
// the same document fail fast instead of trading last-write-wins saves.
package filelock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// SessionLock wraps a flock advisory lock beside the database file.
type SessionLock struct {
	flock *flock.Flock
	path  string
}

// New creates a session lock at the given path. The lock file is created on
// first acquisition.
func New(path string) *SessionLock {
	return &SessionLock{
		flock: flock.New(path),
		path:  path,
	}
}

// TryAcquire attempts to take the lock without blocking. Returns false when
// another session holds it.
func (l *SessionLock) TryAcquire() (bool, error) {
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock %s: %w", l.path, err)
	}
	return acquired, nil
}

// Acquire blocks until the lock is available.
func (l *SessionLock) Acquire() error {
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	return nil
}

// Release releases the lock.
func (l *SessionLock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (l *SessionLock) Path() string {
	return l.path
}
