package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound 表示记录不存在或不属于当前调用者。
	ErrNotFound = errors.New("record not found")
	// ErrUnauthorized 表示需要登录身份。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden 表示身份有效但权限不足。
	ErrForbidden = errors.New("forbidden")
)

// ValidationError 携带字段级校验信息。
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError 创建 ValidationError。
func NewValidationError(fields map[string]string) *ValidationError {
	if fields == nil {
		fields = map[string]string{}
	}
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// TransactionError 表示提交事务失败，Message 可直接返回给用户。
type TransactionError struct {
	Message string
	Cause   error
}

func (e *TransactionError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *TransactionError) Unwrap() error { return e.Cause }

// RootCause 返回包装链最内层的错误。
func RootCause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}

// IsValidation 判断是否为校验错误。
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
