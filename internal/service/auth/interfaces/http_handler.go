// internal/service/auth/interfaces/http_handler.go
package interfaces

import (
	"context"
	"net/http"
	"strings"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/httpx"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TokenService 由 application.TokenFacade 实现
type TokenService interface {
	Persist(ctx context.Context, memberID, tokenValue string, ttl time.Duration) error
	Delete(ctx context.Context, tokenValue string) error
	DeleteByMemberID(ctx context.Context, memberID string) error
	Lookup(ctx context.Context, tokenValue string) (string, error)
	Rotate(ctx context.Context, memberID, oldToken, newToken string, ttl time.Duration) error
}

// TokenHandler 刷新令牌的 HTTP 接口，供登录/登出流程调用
type TokenHandler struct {
	tokens TokenService
	ttl    func() time.Duration
	tracer trace.Tracer
}

// NewTokenHandler ttl 每次请求时读取，配置中心下发的新值无需重启即可生效
func NewTokenHandler(tokens TokenService, ttl func() time.Duration) *TokenHandler {
	return &TokenHandler{tokens: tokens, ttl: ttl, tracer: otel.Tracer("auth")}
}

func (h *TokenHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/tokens", h.persist)
	mux.HandleFunc("POST /auth/tokens/rotate", h.rotate)
	mux.HandleFunc("DELETE /auth/tokens", h.delete)
	mux.HandleFunc("DELETE /auth/members/{memberId}/tokens", h.deleteByMember)
	mux.HandleFunc("GET /auth/session", h.lookup)
}

// RequireMember 是一个认证中间件：从 Authorization: Bearer <token> 解析会员，
// 通过后把会员 ID 放进请求头 X-Member-Id，并作为 baggage 随 trace 传给下游
func (h *TokenHandler) RequireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		memberID, err := h.tokens.Lookup(r.Context(), token)
		if apperr.Is(err, apperr.KindNotFound) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if err != nil {
			httpx.WriteError(r.Context(), w, err)
			return
		}
		r.Header.Set("X-Member-Id", memberID)
		ctx := r.Context()
		if m, err := baggage.NewMember("member.id", memberID); err == nil {
			if b, err := baggage.FromContext(ctx).SetMember(m); err == nil {
				ctx = baggage.ContextWithBaggage(ctx, b)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *TokenHandler) start(r *http.Request, name string) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return h.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
}

type tokenRequest struct {
	MemberID string `json:"memberId"`
	Token    string `json:"token"`
	OldToken string `json:"oldToken"`
}

func (h *TokenHandler) persist(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.PersistRefreshToken")
	defer span.End()
	var req tokenRequest
	if !httpx.Decode(ctx, w, r, &req) {
		return
	}
	if err := h.tokens.Persist(ctx, req.MemberID, req.Token, h.ttl()); err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TokenHandler) rotate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.RotateRefreshToken")
	defer span.End()
	var req tokenRequest
	if !httpx.Decode(ctx, w, r, &req) {
		return
	}
	if err := h.tokens.Rotate(ctx, req.MemberID, req.OldToken, req.Token, h.ttl()); err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TokenHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.DeleteRefreshToken")
	defer span.End()
	if err := h.tokens.Delete(ctx, bearer(r)); err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TokenHandler) deleteByMember(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.DeleteMemberRefreshTokens")
	defer span.End()
	if err := h.tokens.DeleteByMemberID(ctx, r.PathValue("memberId")); err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TokenHandler) lookup(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "http.LookupRefreshToken")
	defer span.End()
	memberID, err := h.tokens.Lookup(ctx, bearer(r))
	if err != nil {
		httpx.WriteError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"memberId": memberID})
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}
