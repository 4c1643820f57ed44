// Package lock serializes transactions on a project. A Lock is held in two
// places: an in-process registry keyed by project root, and an advisory
// file lock under the project's state directory so that a second process
// is turned away as well.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aidanlsb/pbipkit/internal/model"
)

// FileName is the lock file inside the state directory.
const FileName = "lock"

var (
	registryMu sync.Mutex
	registry   = make(map[string]*sync.Mutex)
)

func rootMutex(root string) *sync.Mutex {
	registryMu.Lock()
	defer registryMu.Unlock()
	mu, ok := registry[root]
	if !ok {
		mu = &sync.Mutex{}
		registry[root] = mu
	}
	return mu
}

// Lock is an exclusive hold on one project.
type Lock struct {
	root string
	mu   *sync.Mutex
	file *os.File
}

// Acquire takes the project lock without waiting. It fails with an error
// wrapping model.ErrConcurrency when another transaction, in this process
// or another, already holds it.
func Acquire(root, stateDir string) (*Lock, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	mu := rootMutex(abs)
	if !mu.TryLock() {
		return nil, fmt.Errorf("%w: %s", model.ErrConcurrency, abs)
	}

	file, err := lockFile(stateDir)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	return &Lock{root: abs, mu: mu, file: file}, nil
}

func lockFile(stateDir string) (*os.File, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	path := filepath.Join(stateDir, FileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockFileExclusiveNonBlocking(file); err != nil {
		file.Close()
		if isWouldBlockError(err) {
			return nil, fmt.Errorf("%w: held by another process (%s)", model.ErrConcurrency, path)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return file, nil
}

// Release drops both holds. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	l.mu.Unlock()
	return errors.Join(unlockErr, closeErr)
}
