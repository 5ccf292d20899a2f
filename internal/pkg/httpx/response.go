// internal/pkg/httpx/response.go
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/logger"
)

// ErrorBody 是错误响应的 JSON 结构
type ErrorBody struct {
	Kind      apperr.Kind `json:"kind"`
	Message   string      `json:"message"`
	Current   string      `json:"current,omitempty"`
	Requested string      `json:"requested,omitempty"`
	Action    string      `json:"action,omitempty"`
}

// StatusFor 错误类别到 HTTP 状态码的唯一映射
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindStateConflict:
		return http.StatusConflict
	case apperr.KindLockTimeout:
		return http.StatusServiceUnavailable
	case apperr.KindExternalDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Decode 解析 JSON 请求体；空 body 保持 v 的零值
func Decode(ctx context.Context, w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(ctx, w, apperr.Validation("http.decode", "invalid request body: %v", err))
		return false
	}
	return true
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError 写出错误响应；INTERNAL 错误不暴露细节，LOCK_TIMEOUT 带 Retry-After
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	body := ErrorBody{Kind: kind, Message: err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Current, body.Requested, body.Action = ae.Current, ae.Requested, ae.Action
	}
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		logger.Ctx(ctx).Error().Err(err).Str("kind", string(kind)).Msg("❌ request failed")
		if kind == apperr.KindInternal {
			body.Message = "internal error"
		}
	}
	if kind == apperr.KindLockTimeout {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, status, body)
}
