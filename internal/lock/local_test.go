package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

func TestLocalLocker(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.clock = func() time.Time { return now }
	ctx := context.Background()

	unlock, err := locker.TryLock(ctx, "run", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.TryLock(ctx, "run", time.Minute); !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if _, err := locker.TryLock(ctx, "other", time.Minute); err != nil {
		t.Fatalf("other key must be free: %v", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := unlock(ctx); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("double unlock must fail, got %v", err)
	}
}

func TestLocalLocker_ExpiredLockCanBeTaken(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.clock = func() time.Time { return now }
	ctx := context.Background()

	staleUnlock, err := locker.TryLock(ctx, "run", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = now.Add(2 * time.Minute)
	unlock, err := locker.TryLock(ctx, "run", time.Minute)
	if err != nil {
		t.Fatalf("expired lock must be reusable: %v", err)
	}
	if err := staleUnlock(ctx); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("stale owner must not release new lock, got %v", err)
	}
	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
