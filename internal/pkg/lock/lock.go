// internal/pkg/lock/lock.go
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/metrics"

	"github.com/google/uuid"
)

// ErrNotHeld 释放一把不属于该令牌（或租约已过期）的锁
var ErrNotHeld = errors.New("lock: not held by current owner")

// Token 标识一次成功的加锁。同一进程内的两次加锁拿到不同的令牌，
// 租约过期后旧令牌既不能释放也不能冒充新持有者。
type Token string

func newToken() Token { return Token(uuid.NewString()) }

// Locker 是分布式锁的端口。
//
// TryLock 最多等待 wait；拿到锁后 lease 到期自动释放，防止持有者崩溃导致死锁。
// 不做自动重试，拿不到锁由调用方决定如何处理。
type Locker interface {
	TryLock(ctx context.Context, key string, wait, lease time.Duration) (Token, bool, error)
	Unlock(ctx context.Context, key string, token Token) error
	IsHeldByCurrentOwner(ctx context.Context, key string, token Token) (bool, error)
	IsLocked(ctx context.Context, key string) (bool, error)
}

// Run 在锁保护下执行 fn，任何退出路径都会释放锁。
// 等待超时返回 LOCK_TIMEOUT，锁后端故障返回 EXTERNAL_DEPENDENCY_FAILURE。
func Run(ctx context.Context, l Locker, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	const op = "lock.run"
	prefix := keyPrefix(key)

	start := time.Now()
	token, ok, err := l.TryLock(ctx, key, wait, lease)
	metrics.LockWaitDuration.WithLabelValues(prefix).Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		metrics.LockAcquisitionsTotal.WithLabelValues(prefix, "error").Inc()
		return apperr.External(op, err)
	case !ok:
		metrics.LockAcquisitionsTotal.WithLabelValues(prefix, "timeout").Inc()
		logger.Ctx(ctx).Warn().Str("lock_key", key).Dur("wait", wait).Msg("⏳ lock not acquired within wait time")
		return apperr.LockTimeout(op, key)
	}
	metrics.LockAcquisitionsTotal.WithLabelValues(prefix, "acquired").Inc()

	defer func() {
		// 业务 ctx 可能已经取消，释放锁使用独立的短超时
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := l.Unlock(unlockCtx, key, token); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("lock_key", key).Msg("⚠️ failed to release lock")
		}
	}()
	return fn(ctx)
}

// keyPrefix 取业务键的第一段作为指标标签，避免高基数
func keyPrefix(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
