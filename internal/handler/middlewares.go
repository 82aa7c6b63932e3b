package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
}

func (rw *ResponseWriter) WriteHeader(statusCode int) {
	rw.StatusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (h *Handler) logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := time.Since(start)
		slog.Info("已处理请求", "status", rw.StatusCode, "ip", r.RemoteAddr, "method", r.Method, "path", r.URL.Path, "duration", duration)

		if h.metrics != nil {
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			h.metrics.ObserveRequest(r.Method, route, rw.StatusCode, duration)
		}
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.internalServerError(w, r, fmt.Errorf("panic: %v", err))
				stackTrace := string(debug.Stack())
				fmt.Print(stackTrace) // slog 会把堆栈压成一行，所以直接打印
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// TenantClaims 是身份服务签发的令牌载荷，Subject 为调用者的用户 ID
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

var errMissingTenant = errors.New("无法确定租户")

// tenant 把调用者的租户 ID 放进 context。配置了 JWT 密钥时租户取自令牌，否则取自 X-Tenant-ID
func (h *Handler) tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			tenantID uuid.UUID
			subject  string
			err      error
		)
		if h.config.JWT.Secret != "" {
			tenantID, subject, err = h.tenantFromToken(r)
		} else {
			tenantID, err = uuid.Parse(r.Header.Get("X-Tenant-ID"))
		}
		if err != nil || tenantID == uuid.Nil {
			if err == nil {
				err = errMissingTenant
			}
			slog.Debug("已拒绝缺少租户的请求", "path", r.URL.Path, "error", err)
			h.errorResponse(w, r, http.StatusUnauthorized, "租户缺失或无效", nil)
			return
		}

		ctx := context.WithValue(r.Context(), TenantIDCtx, tenantID)
		if subject != "" {
			ctx = context.WithValue(ctx, SubjectCtx, subject)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) tenantFromToken(r *http.Request) (uuid.UUID, string, error) {
	tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || tokenString == "" {
		return uuid.Nil, "", errMissingTenant
	}

	claims := &TenantClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(h.config.JWT.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, "", err
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return uuid.Nil, "", err
	}
	return tenantID, claims.Subject, nil
}

func (h *Handler) dayPlan(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			h.errorResponse(w, r, http.StatusBadRequest, "日计划ID无效", ErrorDetail{Kind: domain.ErrValidation.Error(), Field: "id"})
			return
		}

		plan, err := h.repository.GetDayPlanByID(r.Context(), tenantFrom(r), id)
		if err != nil {
			h.domainError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), DayPlanCtx, plan)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) scheduleEvent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			h.errorResponse(w, r, http.StatusBadRequest, "日程事件ID无效", ErrorDetail{Kind: domain.ErrValidation.Error(), Field: "id"})
			return
		}

		event, err := h.repository.GetScheduleEventByID(r.Context(), tenantFrom(r), id)
		if err != nil {
			h.domainError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), ScheduleEventCtx, event)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
