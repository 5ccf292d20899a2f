package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/clock"
	"fulfillment/internal/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contenders 让 n 个持有者同时抢同一把锁，返回成功的数量
func contenders(t *testing.T, lockers []Locker, key string) int {
	t.Helper()
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		wins  atomic.Int32
	)
	for _, l := range lockers {
		wg.Add(1)
		go func(l Locker) {
			defer wg.Done()
			<-start
			_, ok, err := l.TryLock(context.Background(), key, 0, time.Minute)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(l)
	}
	close(start)
	wg.Wait()
	return int(wins.Load())
}

func TestMemoryLockerSingleWinner(t *testing.T) {
	b := NewMemoryBackend(clock.NewFake(time.Unix(0, 0)))
	lockers := []Locker{b.NewLocker(), b.NewLocker(), b.NewLocker(), b.NewLocker()}
	assert.Equal(t, 1, contenders(t, lockers, "order:o-1"))
}

func TestMemoryLockerLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(0, 0))
	b := NewMemoryBackend(clk)
	a, c := b.NewLocker(), b.NewLocker()

	tokA, ok, err := a.TryLock(ctx, "claim:c-1", 0, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.TryLock(ctx, "claim:c-1", 30*time.Millisecond, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(10 * time.Second)
	tokC, ok, err := c.TryLock(ctx, "claim:c-1", 0, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	held, _ := c.IsHeldByCurrentOwner(ctx, "claim:c-1", tokC)
	assert.True(t, held)
	held, _ = a.IsHeldByCurrentOwner(ctx, "claim:c-1", tokA)
	assert.False(t, held)
	assert.ErrorIs(t, a.Unlock(ctx, "claim:c-1", tokA), ErrNotHeld)
}

func TestMemoryLockerWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(nil)
	a, c := b.NewLocker(), b.NewLocker()

	tok, ok, _ := a.TryLock(ctx, "k", 0, time.Minute)
	require.True(t, ok)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = a.Unlock(ctx, "k", tok)
	}()
	_, ok, err := c.TryLock(ctx, "k", 2*time.Second, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunReleasesOnError(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryBackend(nil).NewLocker()
	boom := errors.New("boom")

	err := Run(ctx, l, "order:o-1", 0, time.Minute, func(ctx context.Context) error {
		locked, _ := l.IsLocked(ctx, "order:o-1")
		assert.True(t, locked)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	locked, _ := l.IsLocked(ctx, "order:o-1")
	assert.False(t, locked)
}

func TestRunLockTimeout(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(nil)
	holder := b.NewLocker()
	_, ok, _ := holder.TryLock(ctx, "checkout:k1", 0, time.Minute)
	require.True(t, ok)

	called := false
	err := Run(ctx, b.NewLocker(), "checkout:k1", 20*time.Millisecond, time.Minute, func(context.Context) error {
		called = true
		return nil
	})
	assert.True(t, apperr.Is(err, apperr.KindLockTimeout), "got %v", err)
	assert.False(t, called)
}

func TestTryLockHonoursContext(t *testing.T) {
	b := NewMemoryBackend(nil)
	_, ok, _ := b.NewLocker().TryLock(context.Background(), "k", 0, time.Minute)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := b.NewLocker().TryLock(ctx, "k", time.Second, time.Minute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func newRedisLocker(t *testing.T, mr *miniredis.Miniredis) *RedisLocker {
	t.Helper()
	c, err := redis.NewClient(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	l, err := NewRedisLocker(c)
	require.NoError(t, err)
	return l
}

func TestRedisLockerSingleWinner(t *testing.T) {
	mr := miniredis.RunT(t)
	lockers := []Locker{newRedisLocker(t, mr), newRedisLocker(t, mr), newRedisLocker(t, mr)}
	assert.Equal(t, 1, contenders(t, lockers, "shipment:s-1"))
}

func TestRedisLockerLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	a, c := newRedisLocker(t, mr), newRedisLocker(t, mr)

	tokA, ok, err := a.TryLock(ctx, "refresh-token:member:m-1", 0, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	stored, err := mr.Get("lock:refresh-token:member:m-1")
	require.NoError(t, err)
	assert.Equal(t, string(tokA), stored)

	_, ok, err = c.TryLock(ctx, "refresh-token:member:m-1", 0, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(5 * time.Second)
	tokC, ok, err := c.TryLock(ctx, "refresh-token:member:m-1", 0, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// 过期的持有者不能删掉新持有者的锁
	assert.ErrorIs(t, a.Unlock(ctx, "refresh-token:member:m-1", tokA), ErrNotHeld)
	locked, err := c.IsLocked(ctx, "refresh-token:member:m-1")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, c.Unlock(ctx, "refresh-token:member:m-1", tokC))
	locked, _ = c.IsLocked(ctx, "refresh-token:member:m-1")
	assert.False(t, locked)
}

func TestRedisLockerBackendFailure(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	l := newRedisLocker(t, mr)
	mr.Close()

	err := Run(context.Background(), l, "order:o-1", 0, time.Second, func(context.Context) error { return nil })
	assert.True(t, apperr.Is(err, apperr.KindExternalDependency), "got %v", err)
}

// staleReleaseKeepsNewHolder 同一个 Locker 上：第一次加锁租约过期，第二次加锁成功，
// 第一次的迟到释放必须失败，其他实例也拿不到锁。
func staleReleaseKeepsNewHolder(t *testing.T, l, other Locker, expire func(time.Duration)) {
	t.Helper()
	ctx := context.Background()
	const key = "order:o-1"

	first, ok, err := l.TryLock(ctx, key, 0, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	expire(2 * time.Second)
	second, ok, err := l.TryLock(ctx, key, 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, first, second)

	assert.ErrorIs(t, l.Unlock(ctx, key, first), ErrNotHeld)
	held, err := l.IsHeldByCurrentOwner(ctx, key, second)
	require.NoError(t, err)
	assert.True(t, held)
	held, _ = l.IsHeldByCurrentOwner(ctx, key, first)
	assert.False(t, held)

	_, ok, err = other.TryLock(ctx, key, 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must keep the key")

	require.NoError(t, l.Unlock(ctx, key, second))
}

func TestMemoryLockerStaleReleaseKeepsNewHolder(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	b := NewMemoryBackend(clk)
	staleReleaseKeepsNewHolder(t, b.NewLocker(), b.NewLocker(), func(d time.Duration) { clk.Advance(d) })
}

func TestRedisLockerStaleReleaseKeepsNewHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	staleReleaseKeepsNewHolder(t, newRedisLocker(t, mr), newRedisLocker(t, mr), mr.FastForward)
}

func TestRunDoesNotReleaseLaterHolder(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(0, 0))
	b := NewMemoryBackend(clk)
	l := b.NewLocker()

	var later Token
	err := Run(ctx, l, "order:o-1", 0, time.Second, func(ctx context.Context) error {
		// 临界区内租约过期，同进程的另一个请求拿到了锁
		clk.Advance(2 * time.Second)
		tok, ok, err := l.TryLock(ctx, "order:o-1", 0, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		later = tok
		return nil
	})
	require.NoError(t, err)

	held, _ := l.IsHeldByCurrentOwner(ctx, "order:o-1", later)
	assert.True(t, held)
	_, ok, _ := b.NewLocker().TryLock(ctx, "order:o-1", 0, time.Minute)
	assert.False(t, ok)
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "refresh-token", keyPrefix("refresh-token:member:1"))
	assert.Equal(t, "plain", keyPrefix("plain"))
}
