// internal/pkg/lock/redis.go
package lock

import (
	"context"
	"fmt"
	"time"

	"fulfillment/internal/pkg/redis"

	"github.com/pkg/errors"
)

const (
	redisKeyPrefix   = "lock:"
	unlockScriptName = "lock_unlock"
	defaultLease     = 30 * time.Second
	retryInterval    = 20 * time.Millisecond
)

// KEYS[1]: 锁的 key
// ARGV[1]: 加锁时写入的令牌
// 只有令牌一致才删除，租约过期后旧令牌删不掉别人重新拿到的锁
var unlockScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`

// RedisLocker 基于 SET NX PX 的锁，租约由 key 的 TTL 实现，value 是本次加锁的令牌
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) (*RedisLocker, error) {
	if err := client.LoadScriptFromContent(unlockScriptName, unlockScript); err != nil {
		return nil, fmt.Errorf("failed to load lock unlock script: %w", err)
	}
	return &RedisLocker{client: client}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, wait, lease time.Duration) (Token, bool, error) {
	if lease <= 0 {
		lease = defaultLease
	}
	rkey := redisKeyPrefix + key
	token := newToken()
	ok, err := poll(ctx, wait, func() (bool, error) {
		ok, err := l.client.GetClient().SetNX(ctx, rkey, string(token), lease).Result()
		if err != nil {
			return false, errors.Wrapf(err, "redis lock: set %s", rkey)
		}
		return ok, nil
	})
	if !ok || err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key string, token Token) error {
	res, err := l.client.RunScript(ctx, unlockScriptName, []string{redisKeyPrefix + key}, string(token))
	if err != nil {
		return errors.Wrapf(err, "redis lock: unlock %s", key)
	}
	if n, _ := res.(int64); n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *RedisLocker) IsHeldByCurrentOwner(ctx context.Context, key string, token Token) (bool, error) {
	v, err := l.client.GetClient().Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "redis lock: get %s", key)
	}
	return token != "" && v == string(token), nil
}

func (l *RedisLocker) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.GetClient().Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis lock: exists %s", key)
	}
	return n > 0, nil
}

// poll 反复尝试 attempt，直到成功、出错或等待时间耗尽
func poll(ctx context.Context, wait time.Duration, attempt func() (bool, error)) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := attempt()
		if err != nil || ok {
			return ok, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		sleep := retryInterval
		if remaining < sleep {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}
