// internal/service/auth/infrastructure/gorm_token_store.go
package infrastructure

import (
	"context"
	"time"

	"fulfillment/internal/pkg/database"
	"fulfillment/internal/service/auth/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// RefreshTokenModel 刷新令牌表
type RefreshTokenModel struct {
	TokenValue string    `gorm:"column:token_value;type:varchar(512);primaryKey"`
	MemberID   string    `gorm:"column:member_id;type:varchar(64);not null;index:idx_member"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null;index:idx_expires"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (RefreshTokenModel) TableName() string { return "refresh_tokens" }

func (m RefreshTokenModel) toDomain() *domain.RefreshToken {
	return &domain.RefreshToken{
		MemberID:   m.MemberID,
		TokenValue: m.TokenValue,
		ExpiresAt:  m.ExpiresAt.UTC(),
		CreatedAt:  m.CreatedAt.UTC(),
	}
}

// Migrate 迁移令牌表
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&RefreshTokenModel{}), "auto migrate refresh_tokens")
}

// GormTokenStore 是 TokenStore 的 GORM 实现
type GormTokenStore struct {
	db *gorm.DB
}

func NewGormTokenStore(db *gorm.DB) *GormTokenStore {
	return &GormTokenStore{db: db}
}

func (s *GormTokenStore) InTx(ctx context.Context, fn func(ctx context.Context, repo domain.TokenRepository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormTokenStore(tx))
	})
}

func (s *GormTokenStore) Create(ctx context.Context, t domain.RefreshToken) error {
	m := RefreshTokenModel{
		TokenValue: t.TokenValue,
		MemberID:   t.MemberID,
		ExpiresAt:  t.ExpiresAt.UTC(),
		CreatedAt:  t.CreatedAt.UTC(),
	}
	return database.MapError("token.create", s.db.WithContext(ctx).Create(&m).Error, "create refresh token for member %s", t.MemberID)
}

func (s *GormTokenStore) FindByToken(ctx context.Context, tokenValue string) (*domain.RefreshToken, error) {
	var m RefreshTokenModel
	if err := s.db.WithContext(ctx).Where("token_value = ?", tokenValue).First(&m).Error; err != nil {
		return nil, database.MapError("token.find", err, "refresh token not found")
	}
	return m.toDomain(), nil
}

func (s *GormTokenStore) DeleteByToken(ctx context.Context, tokenValue string) error {
	err := s.db.WithContext(ctx).Where("token_value = ?", tokenValue).Delete(&RefreshTokenModel{}).Error
	return database.MapError("token.delete", err, "delete refresh token")
}

func (s *GormTokenStore) DeleteByMemberID(ctx context.Context, memberID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("member_id = ?", memberID).Delete(&RefreshTokenModel{})
	return res.RowsAffected, database.MapError("token.deleteByMember", res.Error, "delete refresh tokens of member %s", memberID)
}

func (s *GormTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&RefreshTokenModel{})
	return res.RowsAffected, database.MapError("token.purge", res.Error, "purge expired refresh tokens")
}

var _ domain.TokenStore = (*GormTokenStore)(nil)
