// internal/service/auth/domain/token.go
package domain

import (
	"context"
	"time"
)

// RefreshToken 登录时签发的刷新令牌。持久化存储是唯一的事实来源，缓存只是加速层。
type RefreshToken struct {
	MemberID   string
	TokenValue string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

func (t RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenRepository 刷新令牌的持久化接口
type TokenRepository interface {
	// Create 令牌值已存在时返回 STATE_CONFLICT
	Create(ctx context.Context, token RefreshToken) error
	FindByToken(ctx context.Context, tokenValue string) (*RefreshToken, error)
	DeleteByToken(ctx context.Context, tokenValue string) error
	DeleteByMemberID(ctx context.Context, memberID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenStore 在一个事务里提供 TokenRepository
type TokenStore interface {
	TokenRepository
	InTx(ctx context.Context, fn func(ctx context.Context, repo TokenRepository) error) error
}

// TokenCache 刷新令牌的缓存端口，认证中间件只通过它校验令牌
type TokenCache interface {
	Persist(ctx context.Context, tokenValue, memberID string, ttl time.Duration) error
	Delete(ctx context.Context, tokenValue string) error
	DeleteByMemberID(ctx context.Context, memberID string) error
	// FindMemberIDByToken 未命中时返回 ("", false, nil)
	FindMemberIDByToken(ctx context.Context, tokenValue string) (string, bool, error)
}
