// internal/service/auth/application/token_facade.go
package application

import (
	"context"
	"strings"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/clock"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/metrics"
	"fulfillment/internal/service/auth/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MemberLockKey 同一会员的令牌写操作互斥
func MemberLockKey(memberID string) string { return "refresh-token:member:" + memberID }

// TokenFacade 协调刷新令牌的持久化存储与缓存。
//
// 写入顺序：先持久化（事务内），再尽力写缓存，缓存失败只记录不回滚。
// 删除顺序：先删缓存，再删持久化；缓存删除失败时直接中止，
// 保证任何时刻缓存里都不会残留一个逻辑上已删除的令牌。
// 查询只读缓存，未命中即视为不存在。
type TokenFacade struct {
	store     domain.TokenStore
	cache     domain.TokenCache
	locker    lock.Locker
	clock     clock.Clock
	tracer    trace.Tracer
	lockWait  time.Duration
	lockLease time.Duration
}

type TokenFacadeConfig struct {
	LockWait  time.Duration
	LockLease time.Duration
}

func NewTokenFacade(store domain.TokenStore, cache domain.TokenCache, locker lock.Locker, clk clock.Clock, tracer trace.Tracer, cfg TokenFacadeConfig) *TokenFacade {
	return &TokenFacade{
		store:     store,
		cache:     cache,
		locker:    locker,
		clock:     clk,
		tracer:    tracer,
		lockWait:  cfg.LockWait,
		lockLease: cfg.LockLease,
	}
}

// Persist 登录时保存新令牌
func (f *TokenFacade) Persist(ctx context.Context, memberID, tokenValue string, ttl time.Duration) error {
	const op = "token.persist"
	if err := validate(op, memberID, tokenValue, ttl); err != nil {
		return err
	}
	ctx, span := f.tracer.Start(ctx, "app.PersistRefreshToken", trace.WithAttributes(attribute.String("member.id", memberID)))
	defer span.End()

	err := lock.Run(ctx, f.locker, MemberLockKey(memberID), f.lockWait, f.lockLease, func(ctx context.Context) error {
		return f.persistLocked(ctx, memberID, tokenValue, ttl)
	})
	return endSpan(span, err)
}

func (f *TokenFacade) persistLocked(ctx context.Context, memberID, tokenValue string, ttl time.Duration) error {
	now := f.clock.Now()
	err := f.store.InTx(ctx, func(ctx context.Context, repo domain.TokenRepository) error {
		return repo.Create(ctx, domain.RefreshToken{
			MemberID:   memberID,
			TokenValue: tokenValue,
			ExpiresAt:  now.Add(ttl),
			CreatedAt:  now,
		})
	})
	if err != nil {
		return err
	}

	if err := f.cache.Persist(ctx, tokenValue, memberID, ttl); err != nil {
		metrics.CacheFailuresTotal.WithLabelValues("persist").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("member_id", memberID).
			Msg("⚠️ refresh token cache write failed, durable store keeps the token")
	}
	return nil
}

// Delete 登出时删除单个令牌；令牌不存在时视为成功
func (f *TokenFacade) Delete(ctx context.Context, tokenValue string) error {
	const op = "token.delete"
	if strings.TrimSpace(tokenValue) == "" {
		return apperr.Validation(op, "token value is required")
	}
	ctx, span := f.tracer.Start(ctx, "app.DeleteRefreshToken")
	defer span.End()

	memberID, err := f.ownerOf(ctx, tokenValue)
	if apperr.Is(err, apperr.KindNotFound) {
		// 持久化里没有，仍然清掉可能残留的缓存
		return endSpan(span, f.deleteCache(ctx, op, tokenValue))
	}
	if err != nil {
		return endSpan(span, err)
	}
	span.SetAttributes(attribute.String("member.id", memberID))

	err = lock.Run(ctx, f.locker, MemberLockKey(memberID), f.lockWait, f.lockLease, func(ctx context.Context) error {
		return f.deleteLocked(ctx, op, tokenValue)
	})
	return endSpan(span, err)
}

func (f *TokenFacade) deleteLocked(ctx context.Context, op, tokenValue string) error {
	if err := f.deleteCache(ctx, op, tokenValue); err != nil {
		return err
	}
	return f.store.DeleteByToken(ctx, tokenValue)
}

// DeleteByMemberID 删除会员的全部令牌
func (f *TokenFacade) DeleteByMemberID(ctx context.Context, memberID string) error {
	const op = "token.deleteByMember"
	if strings.TrimSpace(memberID) == "" {
		return apperr.Validation(op, "member id is required")
	}
	ctx, span := f.tracer.Start(ctx, "app.DeleteMemberRefreshTokens", trace.WithAttributes(attribute.String("member.id", memberID)))
	defer span.End()

	err := lock.Run(ctx, f.locker, MemberLockKey(memberID), f.lockWait, f.lockLease, func(ctx context.Context) error {
		if err := f.cache.DeleteByMemberID(ctx, memberID); err != nil {
			metrics.CacheFailuresTotal.WithLabelValues("delete").Inc()
			return apperr.External(op, err)
		}
		n, err := f.store.DeleteByMemberID(ctx, memberID)
		if err != nil {
			return err
		}
		logger.Ctx(ctx).Info().Str("member_id", memberID).Int64("deleted", n).Msg("🗑️ member refresh tokens deleted")
		return nil
	})
	return endSpan(span, err)
}

// Lookup 只查缓存，未命中返回 NOT_FOUND
func (f *TokenFacade) Lookup(ctx context.Context, tokenValue string) (string, error) {
	const op = "token.lookup"
	memberID, found, err := f.cache.FindMemberIDByToken(ctx, tokenValue)
	if err != nil {
		return "", apperr.External(op, err)
	}
	if !found {
		return "", apperr.NotFound(op, "refresh token not found")
	}
	return memberID, nil
}

// Rotate 在同一把会员锁内删除旧令牌并保存新令牌
func (f *TokenFacade) Rotate(ctx context.Context, memberID, oldToken, newToken string, ttl time.Duration) error {
	const op = "token.rotate"
	if err := validate(op, memberID, newToken, ttl); err != nil {
		return err
	}
	if oldToken == newToken {
		return apperr.Validation(op, "new token must differ from the old one")
	}
	ctx, span := f.tracer.Start(ctx, "app.RotateRefreshToken", trace.WithAttributes(attribute.String("member.id", memberID)))
	defer span.End()

	err := lock.Run(ctx, f.locker, MemberLockKey(memberID), f.lockWait, f.lockLease, func(ctx context.Context) error {
		old, err := f.store.FindByToken(ctx, oldToken)
		if err != nil {
			return err
		}
		if old.MemberID != memberID {
			return apperr.NotFound(op, "refresh token not found for member")
		}
		if err := f.deleteLocked(ctx, op, oldToken); err != nil {
			return err
		}
		return f.persistLocked(ctx, memberID, newToken, ttl)
	})
	return endSpan(span, err)
}

// PurgeExpired 清理持久化中过期的令牌；缓存依赖 TTL 自行过期
func (f *TokenFacade) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := f.store.DeleteExpired(ctx, f.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Ctx(ctx).Info().Int64("purged", n).Msg("🧹 expired refresh tokens purged")
	}
	return n, nil
}

// RunPurgeLoop 每隔 interval 清理一次，直到 ctx 结束
func (f *TokenFacade) RunPurgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.PurgeExpired(ctx); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("❌ refresh token purge failed")
			}
		}
	}
}

// ownerOf 先查缓存，未命中再查持久化
func (f *TokenFacade) ownerOf(ctx context.Context, tokenValue string) (string, error) {
	if memberID, found, err := f.cache.FindMemberIDByToken(ctx, tokenValue); err == nil && found {
		return memberID, nil
	}
	t, err := f.store.FindByToken(ctx, tokenValue)
	if err != nil {
		return "", err
	}
	return t.MemberID, nil
}

func (f *TokenFacade) deleteCache(ctx context.Context, op, tokenValue string) error {
	if err := f.cache.Delete(ctx, tokenValue); err != nil {
		metrics.CacheFailuresTotal.WithLabelValues("delete").Inc()
		return apperr.External(op, err)
	}
	return nil
}

func validate(op, memberID, tokenValue string, ttl time.Duration) error {
	if strings.TrimSpace(memberID) == "" || strings.TrimSpace(tokenValue) == "" {
		return apperr.Validation(op, "member id and token value are required")
	}
	if ttl <= 0 {
		return apperr.Validation(op, "ttl must be positive, got %s", ttl)
	}
	return nil
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	return err
}
