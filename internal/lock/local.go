package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

type localEntry struct {
	token   uint64
	expires time.Time
}

// LocalLocker — блокировка в памяти процесса для запуска без Redis.
type LocalLocker struct {
	mu    sync.Mutex
	seq   uint64
	held  map[string]localEntry
	clock func() time.Time
}

// NewLocalLocker создаёт in-process блокировку.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), clock: time.Now}
}

// TryLock захватывает key на ttl; истёкшая блокировка считается свободной.
func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if entry, ok := l.held[key]; ok && now.Before(entry.expires) {
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrRunInProgress)
	}

	l.seq++
	token := l.seq
	l.held[key] = localEntry{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()

		entry, ok := l.held[key]
		if !ok || entry.token != token {
			return fmt.Errorf("release lock %s: %w", key, ErrLockNotHeld)
		}
		delete(l.held, key)
		return nil
	}, nil
}
