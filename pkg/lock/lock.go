// Package lock provides named cross-process locks backed by lock files.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DefaultTimeout is how long Acquire waits, and how old a lock file must be
// before it is considered abandoned.
const DefaultTimeout = 600 * time.Second

// ErrLocked is returned when a lock cannot be acquired in time
var ErrLocked = errors.New("lock is held")

// Locker acquires named locks on documents
type Locker interface {
	// Acquire blocks until the lock is held or the timeout passes. The
	// returned release func is safe to call more than once.
	Acquire(ctx context.Context, kind, id, name string) (func(), error)
}

// Signature returns the lock file name for a document lock
func Signature(kind, id, name string) string {
	sum := sha256.Sum224([]byte(fmt.Sprintf("Otto::%s:%s:%s", kind, id, name)))
	return hex.EncodeToString(sum[:])
}

// FileLocker creates lock files in a directory
type FileLocker struct {
	dir     string
	timeout time.Duration
	poll    time.Duration
	logger  zerolog.Logger
}

// Config holds file locker configuration
type Config struct {
	Dir     string
	Timeout time.Duration
	// Poll caps the delay between attempts
	Poll   time.Duration
	Logger zerolog.Logger
}

// NewFileLocker creates the lock directory if needed
func NewFileLocker(cfg Config) (*FileLocker, error) {
	if cfg.Dir == "" {
		return nil, errors.New("lock directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	return &FileLocker{dir: cfg.Dir, timeout: cfg.Timeout, poll: cfg.Poll, logger: cfg.Logger}, nil
}

// Acquire implements Locker
func (l *FileLocker) Acquire(ctx context.Context, kind, id, name string) (func(), error) {
	path := filepath.Join(l.dir, Signature(kind, id, name)+".lock")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = l.poll
	b.MaxElapsedTime = l.timeout
	b.Reset()

	err := backoff.Retry(func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return backoff.Permanent(err)
		}
		if l.stale(path) {
			l.logger.Warn().Str("kind", kind).Str("id", id).Str("lock", name).Msg("Removing stale lock")
			os.Remove(path)
		}
		return ErrLocked
	}, backoff.WithContext(b, ctx))

	if err != nil {
		if errors.Is(err, ErrLocked) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s %s: %w", kind, id, name, ErrLocked)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.logger.Error().Err(err).Str("lock", name).Msg("Failed to release lock")
		}
	}, nil
}

func (l *FileLocker) stale(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > l.timeout
}
