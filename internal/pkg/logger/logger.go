// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 是进程级的基础 logger，由 Init 配置
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 配置全局日志级别和服务名。level 取值 debug/info/warn/error，解析失败时退回 info。
func Init(level, service string) {
	InitWithWriter(os.Stdout, level, service)
}

// InitWithWriter 与 Init 相同，但允许指定输出，测试时写到 buffer
func InitWithWriter(w io.Writer, level, service string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	Logger = zerolog.New(w).With().Timestamp().Str("service", service).Logger()
}

// Ctx 返回带有当前 span 的 trace_id/span_id 的 logger
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger
	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()
	}
	return &l
}

// WithContext 把 logger 挂到 context 上，供只接受 zerolog.Ctx 的代码使用
func WithContext(ctx context.Context) context.Context {
	return Ctx(ctx).WithContext(ctx)
}
