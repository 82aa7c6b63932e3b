package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

func (h *Handler) logInternalServerError(r *http.Request, err error) {
	slog.Error("服务器内部错误", "method", r.Method, "path", r.URL.Path, "error", err)
}

func (h *Handler) readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logInternalServerError(r, err)
	}
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// ErrorDetail 是由领域错误产生的失败响应中的 data 字段
type ErrorDetail struct {
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
	ID    string `json:"id,omitempty"`
}

func (h *Handler) errorResponse(w http.ResponseWriter, r *http.Request, status int, msg string, data any) {
	h.writeJSON(w, r, status, Response{
		Success: false,
		Message: msg,
		Data:    data,
	})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fe := validationErrors[0]
		h.errorResponse(w, r, http.StatusBadRequest, fe.Translate(h.translator), ErrorDetail{
			Kind:  domain.ErrValidation.Error(),
			Field: fe.Field(),
		})
		return
	}

	var derr *domain.Error
	if errors.As(err, &derr) {
		h.domainError(w, r, err)
		return
	}

	h.errorResponse(w, r, http.StatusBadRequest, err.Error(), ErrorDetail{Kind: domain.ErrValidation.Error()})
}

// domainError 把 repository 返回的错误映射为状态码，不属于领域错误的一律返回 500
func (h *Handler) domainError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrLimitExceeded),
		errors.Is(err, domain.ErrConstraintViolation),
		errors.Is(err, domain.ErrStaleVersion):
		status = http.StatusConflict
	default:
		h.internalServerError(w, r, err)
		return
	}

	detail := ErrorDetail{}
	msg := err.Error()
	var derr *domain.Error
	if errors.As(err, &derr) {
		detail = ErrorDetail{Kind: derr.Kind.Error(), Field: derr.Field, ID: derr.ID}
		msg = derr.Message
	}
	h.errorResponse(w, r, status, msg, detail)
}

func (h *Handler) internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	h.logInternalServerError(r, err)
	h.errorResponse(w, r, http.StatusInternalServerError, "服务器内部错误", nil)
}

func (h *Handler) successResponse(w http.ResponseWriter, r *http.Request, msg string, data any) {
	h.writeJSON(w, r, http.StatusOK, Response{
		Success: true,
		Message: msg,
		Data:    data,
	})
}

func (h *Handler) createdResponse(w http.ResponseWriter, r *http.Request, msg string, data any) {
	h.writeJSON(w, r, http.StatusCreated, Response{
		Success: true,
		Message: msg,
		Data:    data,
	})
}
