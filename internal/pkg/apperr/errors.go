// internal/pkg/apperr/errors.go
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 是稳定的、机器可读的错误类别。
// HTTP 等传输层的状态码转换只在接口层完成。
type Kind string

const (
	KindStateConflict      Kind = "STATE_CONFLICT"
	KindNotFound           Kind = "NOT_FOUND"
	KindValidation         Kind = "VALIDATION"
	KindExternalDependency Kind = "EXTERNAL_DEPENDENCY_FAILURE"
	KindLockTimeout        Kind = "LOCK_TIMEOUT"
	KindInternal           Kind = "INTERNAL"
)

// 哨兵错误，配合 errors.Is 使用: errors.Is(err, apperr.ErrNotFound)
var (
	ErrStateConflict      = &Error{Kind: KindStateConflict}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrExternalDependency = &Error{Kind: KindExternalDependency}
	ErrLockTimeout        = &Error{Kind: KindLockTimeout}
	ErrInternal           = &Error{Kind: KindInternal}
)

// Error 是领域与应用层统一的错误类型
type Error struct {
	Kind    Kind
	Op      string
	Message string

	// 仅 StateConflict 使用。状态机迁移时 Requested 是目标状态，Action 是迁移名
	Current   string
	Requested string
	Action    string

	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Kind == KindStateConflict && e.Action != "":
		fmt.Fprintf(&b, "cannot %s from %s to %s", e.Action, e.Current, e.Requested)
	case e.Kind == KindStateConflict:
		fmt.Fprintf(&b, "cannot %s from %s", e.Requested, e.Current)
	default:
		b.WriteString(strings.ToLower(string(e.Kind)))
	}
	b.WriteString(" (")
	b.WriteString(string(e.Kind))
	b.WriteString(")")
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is 让 errors.Is 按 Kind 匹配哨兵错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// StateConflict 表示当前状态不允许请求的操作。
func StateConflict(op, current, requested string) *Error {
	return &Error{Kind: KindStateConflict, Op: op, Current: current, Requested: requested}
}

// TransitionConflict 表示状态机不允许 action 把 current 迁移到 target。
func TransitionConflict(op, action, current, target string) *Error {
	return &Error{Kind: KindStateConflict, Op: op, Current: current, Requested: target, Action: action}
}

func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// External 表示次要依赖（例如缓存）写入失败，主存储仍然是权威数据源。
func External(op string, cause error) *Error {
	return &Error{Kind: KindExternalDependency, Op: op, Message: "secondary store failure", Cause: cause}
}

func LockTimeout(op, key string) *Error {
	return &Error{Kind: KindLockTimeout, Op: op, Message: fmt.Sprintf("could not acquire lock %q", key)}
}

func Internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal failure", Cause: cause}
}

// KindOf 提取错误链上的 Kind，非 *Error 返回 KindInternal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is 判断错误链上是否携带指定 Kind
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
