package infrastructure

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Migrate 迁移订单履约相关的表
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(Models()...), "auto migrate order tables")
}
