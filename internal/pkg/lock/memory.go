// internal/pkg/lock/memory.go
package lock

import (
	"context"
	"sync"
	"time"

	"fulfillment/internal/pkg/clock"
)

type memoryEntry struct {
	token     Token
	expiresAt time.Time
}

// MemoryBackend 是单进程内的锁表，租约按注入的时钟判断过期。
type MemoryBackend struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memoryEntry
}

func NewMemoryBackend(clk clock.Clock) *MemoryBackend {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryBackend{clock: clk, entries: make(map[string]memoryEntry)}
}

// NewLocker 返回共享该锁表的 Locker，持有关系由每次加锁的令牌区分
func (b *MemoryBackend) NewLocker() *MemoryLocker {
	return &MemoryLocker{backend: b}
}

// current 返回未过期的条目，过期条目顺手清理。调用方持有 b.mu。
func (b *MemoryBackend) current(key string) (memoryEntry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !b.clock.Now().Before(e.expiresAt) {
		delete(b.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

type MemoryLocker struct {
	backend *MemoryBackend
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string, wait, lease time.Duration) (Token, bool, error) {
	if lease <= 0 {
		lease = defaultLease
	}
	token := newToken()
	ok, err := poll(ctx, wait, func() (bool, error) {
		b := l.backend
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, held := b.current(key); held {
			return false, nil
		}
		b.entries[key] = memoryEntry{token: token, expiresAt: b.clock.Now().Add(lease)}
		return true, nil
	})
	if !ok || err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, key string, token Token) error {
	b := l.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	e, held := b.current(key)
	if !held || e.token != token {
		return ErrNotHeld
	}
	delete(b.entries, key)
	return nil
}

func (l *MemoryLocker) IsHeldByCurrentOwner(_ context.Context, key string, token Token) (bool, error) {
	b := l.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	e, held := b.current(key)
	return held && token != "" && e.token == token, nil
}

func (l *MemoryLocker) IsLocked(_ context.Context, key string) (bool, error) {
	b := l.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	_, held := b.current(key)
	return held, nil
}
