// Package lock provides advisory file locking for the metadata store: a
// shared lock lets any number of readers proceed concurrently, an
// exclusive lock guarantees a writer has the dot-directory to itself.
package lock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by TryAcquire when the lock is already held.
var ErrWouldBlock = errors.New("lock: would block")

// Lock holds an open file descriptor with a flock(2) advisory lock on it.
type Lock struct {
	f *os.File
}

// Acquire opens path (creating it if necessary) and blocks until an
// exclusive (shared=false) or shared (shared=true) advisory lock is held.
func Acquire(path string, shared bool) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock open %s: %w", path, err)
	}
	how := unix.LOCK_EX
	if shared {
		how = unix.LOCK_SH
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// TryAcquire is Acquire's non-blocking form: it returns ErrWouldBlock
// immediately instead of waiting when the lock is already held elsewhere.
func TryAcquire(path string, shared bool) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock open %s: %w", path, err)
	}
	how := unix.LOCK_EX | unix.LOCK_NB
	if shared {
		how = unix.LOCK_SH | unix.LOCK_NB
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release drops the advisory lock and closes the underlying descriptor.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
