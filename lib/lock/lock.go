// Package lock provides file-based locking used to serialize training
// runs across handler invocations and processes.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// defaultStaleAfter is the age past which an orphaned lock file is
// reclaimed. It must exceed the longest plausible training run; the
// acquisition timeout has no bearing on it.
const defaultStaleAfter = 30 * time.Minute

// FileLock provides a simple file-based locking mechanism.
type FileLock struct {
	logger     *slog.Logger
	dir        string
	staleAfter time.Duration
}

// NewFileLock creates a new file-based lock instance.
func NewFileLock(logger *slog.Logger) *FileLock {
	return &FileLock{
		logger:     logger,
		dir:        filepath.Join(os.TempDir(), "movieapp-locks"),
		staleAfter: defaultStaleAfter,
	}
}

// TryLock attempts to acquire a lock with the given key within timeout.
// It returns false without error when the lock stays held past the
// deadline.
func (fl *FileLock) TryLock(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	lockFile := fl.lockFilePath(key)

	if err := os.MkdirAll(filepath.Dir(lockFile), 0750); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		// #nosec G304 - lockFile is generated through controlled logic in lockFilePath
		file, err := os.OpenFile(lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err != nil {
			if os.IsExist(err) {
				if fl.isLockStale(lockFile) {
					fl.logger.Warn("Removing stale lock file", slog.String("file", lockFile))
					if err := os.Remove(lockFile); err != nil {
						fl.logger.Error("Failed to remove stale lock file", slog.String("file", lockFile), slog.Any("error", err))
					}
					continue
				}

				select {
				case <-ctx.Done():
					return false, ctx.Err()
				case <-time.After(100 * time.Millisecond):
					continue
				}
			}
			return false, fmt.Errorf("failed to create lock file: %w", err)
		}

		if _, err := fmt.Fprintf(file, "%d\n%d\n", time.Now().Unix(), os.Getpid()); err != nil {
			if closeErr := file.Close(); closeErr != nil {
				fl.logger.Error("Failed to close lock file after write error", slog.String("file", lockFile), slog.Any("error", closeErr))
			}
			return false, fmt.Errorf("failed to write to lock file: %w", err)
		}
		if err := file.Close(); err != nil {
			return false, fmt.Errorf("failed to close lock file: %w", err)
		}

		fl.logger.Debug("Acquired lock", slog.String("key", key), slog.String("file", lockFile))
		return true, nil
	}

	return false, nil
}

// Unlock releases the lock for the given key.
func (fl *FileLock) Unlock(ctx context.Context, key string) error {
	lockFile := fl.lockFilePath(key)

	if err := os.Remove(lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	fl.logger.Debug("Released lock", slog.String("key", key), slog.String("file", lockFile))
	return nil
}

// lockFilePath returns the file path for a lock key.
func (fl *FileLock) lockFilePath(key string) string {
	// Clean the path to prevent path traversal through the key.
	return filepath.Clean(filepath.Join(fl.dir, key+".lock"))
}

// isLockStale checks if a lock file has outlived the stale horizon.
func (fl *FileLock) isLockStale(lockFile string) bool {
	info, err := os.Stat(lockFile)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) > fl.staleAfter
}
