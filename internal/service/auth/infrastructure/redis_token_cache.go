// internal/service/auth/infrastructure/redis_token_cache.go
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"fulfillment/internal/pkg/redis"
	"fulfillment/internal/service/auth/domain"

	"github.com/pkg/errors"
)

const (
	tokenKeyPrefix  = "refresh-token:"
	memberKeyPrefix = "refresh-token:member-index:"

	persistScriptName      = "refresh_token_persist"
	deleteScriptName       = "refresh_token_delete"
	deleteMemberScriptName = "refresh_token_delete_member"
)

// KEYS[1]: 令牌 key  KEYS[2]: 会员索引 key
// ARGV[1]: 会员 ID  ARGV[2]: 令牌值  ARGV[3]: TTL 毫秒
// 索引的 TTL 只会延长，保证不早于其中任何一个令牌过期
var persistScript = `
redis.call('set', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('sadd', KEYS[2], ARGV[2])
local ttl = redis.call('pttl', KEYS[2])
if ttl < tonumber(ARGV[3]) then
    redis.call('pexpire', KEYS[2], ARGV[3])
end
return 1
`

// KEYS[1]: 令牌 key
// ARGV[1]: 令牌值  ARGV[2]: 会员索引 key 前缀
var deleteScript = `
local member = redis.call('get', KEYS[1])
redis.call('del', KEYS[1])
if member then
    redis.call('srem', ARGV[2] .. member, ARGV[1])
end
return 1
`

// KEYS[1]: 会员索引 key
// ARGV[1]: 令牌 key 前缀
var deleteMemberScript = `
local tokens = redis.call('smembers', KEYS[1])
for _, t in ipairs(tokens) do
    redis.call('del', ARGV[1] .. t)
end
redis.call('del', KEYS[1])
return #tokens
`

// RedisTokenCache 是 TokenCache 的 Redis 实现：
// refresh-token:<token> -> 会员 ID（带 TTL），refresh-token:member-index:<member> 是该会员的令牌集合。
// 集群模式下脚本里的多个 key 不在同一个 slot，需要单机或代理模式部署。
type RedisTokenCache struct {
	client *redis.Client
}

func NewRedisTokenCache(client *redis.Client) (*RedisTokenCache, error) {
	scripts := map[string]string{
		persistScriptName:      persistScript,
		deleteScriptName:       deleteScript,
		deleteMemberScriptName: deleteMemberScript,
	}
	for name, content := range scripts {
		if err := client.LoadScriptFromContent(name, content); err != nil {
			return nil, fmt.Errorf("failed to load token cache script: %w", err)
		}
	}
	return &RedisTokenCache{client: client}, nil
}

func (c *RedisTokenCache) Persist(ctx context.Context, tokenValue, memberID string, ttl time.Duration) error {
	_, err := c.client.RunScript(ctx, persistScriptName,
		[]string{tokenKeyPrefix + tokenValue, memberKeyPrefix + memberID},
		memberID, tokenValue, ttl.Milliseconds())
	return errors.Wrap(err, "token cache: persist")
}

func (c *RedisTokenCache) Delete(ctx context.Context, tokenValue string) error {
	_, err := c.client.RunScript(ctx, deleteScriptName,
		[]string{tokenKeyPrefix + tokenValue}, tokenValue, memberKeyPrefix)
	return errors.Wrap(err, "token cache: delete")
}

func (c *RedisTokenCache) DeleteByMemberID(ctx context.Context, memberID string) error {
	_, err := c.client.RunScript(ctx, deleteMemberScriptName,
		[]string{memberKeyPrefix + memberID}, tokenKeyPrefix)
	return errors.Wrap(err, "token cache: delete by member")
}

func (c *RedisTokenCache) FindMemberIDByToken(ctx context.Context, tokenValue string) (string, bool, error) {
	v, err := c.client.GetClient().Get(ctx, tokenKeyPrefix+tokenValue).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "token cache: get")
	}
	return v, true, nil
}

var _ domain.TokenCache = (*RedisTokenCache)(nil)
