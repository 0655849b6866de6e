// Package lock provides the per-package exclusive locks that serialize
// writers of one record file.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/kamusis/regindex/internal/indexerr"
)

// Policy decides what Acquire does when the lock is held.
type Policy string

const (
	// PolicyWait blocks until the lock is free (or Timeout passes).
	PolicyWait Policy = "wait"
	// PolicyFail returns a Locked error immediately.
	PolicyFail Policy = "fail"
)

// ParsePolicy accepts "wait" or "fail"; empty means wait.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyWait:
		return PolicyWait, nil
	case PolicyFail:
		return PolicyFail, nil
	}
	return "", fmt.Errorf("unknown lock policy %q (want wait or fail)", s)
}

// Dir is the dot-directory under the index root holding lock files.
const Dir = ".index-lock"

const pollInterval = 25 * time.Millisecond

// Locker hands out exclusive locks keyed by folded package name.
type Locker interface {
	Acquire(key string) (release func(), err error)
}

// Options tune how a Locker waits.
type Options struct {
	Policy Policy
	// Timeout bounds PolicyWait; zero waits forever.
	Timeout time.Duration
}

func acquire(key string, opts Options, try func() (bool, error)) error {
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}
	for {
		ok, err := try()
		if err != nil {
			return indexerr.Wrap(indexerr.IoFailure, err, "cannot acquire lock for `%s`", key)
		}
		if ok {
			return nil
		}
		if opts.Policy == PolicyFail {
			return indexerr.New(indexerr.Locked, "package `%s` is locked by another writer", key)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return indexerr.New(indexerr.Locked, "timed out after %s waiting for lock on `%s`", opts.Timeout, key)
		}
		time.Sleep(pollInterval)
	}
}

// FileLocker locks <root>/.index-lock/<key>.lock with flock(2), so it also
// excludes writers in other processes.
type FileLocker struct {
	root string
	opts Options
}

// NewFileLocker returns a FileLocker for the index at root (an OS path).
func NewFileLocker(root string, opts Options) *FileLocker {
	return &FileLocker{root: root, opts: opts}
}

// Path returns the lock file used for key.
func (l *FileLocker) Path(key string) string {
	return filepath.Join(l.root, Dir, key+".lock")
}

func (l *FileLocker) Acquire(key string) (func(), error) {
	p := l.Path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, indexerr.Wrap(indexerr.IoFailure, err, "cannot create lock directory")
	}
	fl := flock.New(p)
	if err := acquire(key, l.opts, fl.TryLock); err != nil {
		return nil, err
	}
	return func() { _ = fl.Unlock() }, nil
}

// MemLocker is an in-process Locker for indexes that live in memory.
type MemLocker struct {
	opts Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMemLocker returns an empty MemLocker.
func NewMemLocker(opts Options) *MemLocker {
	return &MemLocker{opts: opts, locks: make(map[string]*sync.Mutex)}
}

func (l *MemLocker) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

func (l *MemLocker) Acquire(key string) (func(), error) {
	m := l.get(key)
	if l.opts.Policy != PolicyFail && l.opts.Timeout == 0 {
		m.Lock()
		return m.Unlock, nil
	}
	if err := acquire(key, l.opts, func() (bool, error) { return m.TryLock(), nil }); err != nil {
		return nil, err
	}
	return m.Unlock, nil
}
