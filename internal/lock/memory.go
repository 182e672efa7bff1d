package lock

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/dealpay/internal/types"
)

// MemoryLocker is an in-process Locker for tests and single instance runs
type MemoryLocker struct {
	mu    sync.Mutex
	now   func() time.Time
	locks map[string]memoryEntry
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		now:   time.Now,
		locks: make(map[string]memoryEntry),
	}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry, ok := m.locks[key]; ok && now.Before(entry.expiresAt) {
		return nil, ErrLockHeld
	}

	handle := &Handle{
		Key:        key,
		Token:      types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LOCK_TOKEN),
		TTL:        ttl,
		AcquiredAt: now,
	}
	m.locks[key] = memoryEntry{token: handle.Token, expiresAt: now.Add(ttl)}
	return handle, nil
}

// Release deletes the key only when it is still owned by the handle
func (m *MemoryLocker) Release(ctx context.Context, handle *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.locks[handle.Key]; ok && entry.token == handle.Token {
		delete(m.locks, handle.Key)
	}
	return nil
}
