package lock

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLock(t *testing.T) *FileLock {
	t.Helper()
	fl := NewFileLock(slog.New(slog.NewTextHandler(io.Discard, nil)))
	fl.dir = t.TempDir()
	return fl
}

func TestTryLockAndUnlock(t *testing.T) {
	fl := testLock(t)
	ctx := context.Background()

	acquired, err := fl.TryLock(ctx, "train", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if !acquired {
		t.Fatal("TryLock() = false on a free lock")
	}

	if err := fl.Unlock(ctx, "train"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	acquired, err = fl.TryLock(ctx, "train", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("TryLock() after unlock error = %v", err)
	}
	if !acquired {
		t.Error("TryLock() = false after unlock")
	}
}

func TestHeldLockOutlivesAcquisitionTimeout(t *testing.T) {
	fl := testLock(t)
	ctx := context.Background()

	if acquired, err := fl.TryLock(ctx, "train", 100*time.Millisecond); err != nil || !acquired {
		t.Fatalf("TryLock() = %v, %v", acquired, err)
	}

	// Backdate the lock well past the acquisition timeout but inside
	// the stale horizon. A long run must keep its lock.
	held := time.Now().Add(-time.Minute)
	if err := os.Chtimes(fl.lockFilePath("train"), held, held); err != nil {
		t.Fatal(err)
	}

	acquired, err := fl.TryLock(ctx, "train", 250*time.Millisecond)
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if acquired {
		t.Error("TryLock() stole a lock younger than the stale horizon")
	}
	if _, err := os.Stat(fl.lockFilePath("train")); err != nil {
		t.Errorf("lock file gone after failed acquisition: %v", err)
	}
}

func TestStaleLockIsReclaimed(t *testing.T) {
	fl := testLock(t)
	ctx := context.Background()

	if acquired, err := fl.TryLock(ctx, "train", 100*time.Millisecond); err != nil || !acquired {
		t.Fatalf("TryLock() = %v, %v", acquired, err)
	}

	old := time.Now().Add(-fl.staleAfter - time.Minute)
	if err := os.Chtimes(fl.lockFilePath("train"), old, old); err != nil {
		t.Fatal(err)
	}

	acquired, err := fl.TryLock(ctx, "train", 250*time.Millisecond)
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if !acquired {
		t.Error("TryLock() = false on a lock past the stale horizon")
	}
}

func TestUnlockMissingLock(t *testing.T) {
	fl := testLock(t)
	if err := fl.Unlock(context.Background(), "never-held"); err != nil {
		t.Errorf("Unlock() on a missing lock error = %v", err)
	}
}
