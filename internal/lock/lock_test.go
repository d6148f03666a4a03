package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLockerExcludesSecondHolder(t *testing.T) {
	locker := NewMemoryLocker()

	release, err := locker.Acquire(context.Background(), "repo:p1", time.Minute)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := locker.Acquire(context.Background(), "repo:p1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}

	release()
	if _, err := locker.Acquire(context.Background(), "repo:p1", time.Minute); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestMemoryLockerKeysAreIndependent(t *testing.T) {
	locker := NewMemoryLocker()

	if _, err := locker.Acquire(context.Background(), "repo:p1", time.Minute); err != nil {
		t.Fatalf("acquire p1 failed: %v", err)
	}
	if _, err := locker.Acquire(context.Background(), "repo:p2", time.Minute); err != nil {
		t.Fatalf("acquire p2 failed: %v", err)
	}
}

func TestMemoryLockerExpiresStaleHolder(t *testing.T) {
	locker := NewMemoryLocker()

	if _, err := locker.Acquire(context.Background(), "repo:p1", time.Millisecond); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := locker.Acquire(context.Background(), "repo:p1", time.Minute); err != nil {
		t.Fatalf("expected expired lock to be reclaimable, got %v", err)
	}
}
