package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrLimitExceeded       = errors.New("limit exceeded")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrNotFound            = errors.New("not found")
	ErrStaleVersion        = errors.New("stale version")
)

// Error 携带错误类别以及出错的字段或 id，方便调用方给出准确的提示。
// 通过 Unwrap 可以用 errors.Is(err, ErrNotFound) 等判断类别
type Error struct {
	Kind    error
	Field   string
	ID      string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.ID != "":
		return fmt.Sprintf("%s: %s (field %s, id %s)", e.Kind, e.Message, e.Field, e.ID)
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field %s)", e.Kind, e.Message, e.Field)
	case e.ID != "":
		return fmt.Sprintf("%s: %s (id %s)", e.Kind, e.Message, e.ID)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func NewValidationError(field, format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(entity, id string) *Error {
	return &Error{Kind: ErrNotFound, ID: id, Message: entity + "不存在"}
}
