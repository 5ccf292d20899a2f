// internal/pkg/database/errors.go
package database

import (
	"errors"
	"strings"

	"fulfillment/internal/pkg/apperr"

	mysqldrv "github.com/go-sql-driver/mysql"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

const mysqlDuplicateEntry = 1062

// IsDuplicateKey 识别 MySQL 1062 与 SQLite 的唯一约束冲突
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// MapError 把 gorm/驱动错误转换为应用错误：找不到 -> NOT_FOUND，唯一键冲突 -> STATE_CONFLICT，
// 其余包装后作为 INTERNAL 返回
func MapError(op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, format, args...)
	}
	if IsDuplicateKey(err) {
		return &apperr.Error{Kind: apperr.KindStateConflict, Op: op, Message: "duplicate key", Current: "EXISTS", Requested: "create", Cause: err}
	}
	return apperr.Internal(op, pkgerrors.Wrapf(err, format, args...))
}
