package error

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	// ErrTimeout 表示被包装的查询在限定时间内没有完成。
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrConfigInvalid 表示配置无效。
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
	// ErrCacheMiss 表示缓存中没有可用条目。
	ErrCacheMiss ErrorCode = "CACHE_MISS"
	// ErrSinkUnavailable 表示报表输出端不可用。
	ErrSinkUnavailable ErrorCode = "SINK_UNAVAILABLE"
	// ErrCircuitOpen 表示熔断器处于打开状态，查询被拒绝。
	ErrCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// ErrInvalidRequest 表示管理接口收到的请求参数无效。
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrTypeMismatch 表示缓存值的类型与调用方期望的类型不一致。
	ErrTypeMismatch ErrorCode = "TYPE_MISMATCH"
	// ErrQueryPanic 表示查询函数发生了 panic。
	ErrQueryPanic ErrorCode = "QUERY_PANIC"
)

// BaseError 基础错误类型
type BaseError struct {
	Code      ErrorCode              `json:"code"`              // 错误的分类代码
	Message   string                 `json:"message"`           // 人类可读的错误信息
	Cause     error                  `json:"-"`                 // 导致此错误的原始错误
	Context   map[string]interface{} `json:"context,omitempty"` // 额外的上下文信息
	Timestamp time.Time              `json:"timestamp"`         // 错误发生的时间戳
}

// NewError 创建新的基础错误
func NewError(code ErrorCode, message string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// Newf 使用格式化消息创建基础错误
func Newf(code ErrorCode, format string, args ...interface{}) *BaseError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WrapError 包装现有错误
func WrapError(code ErrorCode, message string, cause error) *BaseError {
	e := NewError(code, message)
	e.Cause = cause
	return e
}

// Error 实现 error 接口
func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 支持错误包装
func (e *BaseError) Unwrap() error {
	return e.Cause
}

// Is 按错误代码比较
func (e *BaseError) Is(target error) bool {
	if t, ok := target.(*BaseError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext 为错误附加一个键值对形式的上下文信息。
func (e *BaseError) WithContext(key string, value interface{}) *BaseError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// HasCode 判断错误链中是否存在指定代码的 BaseError。
func HasCode(err error, code ErrorCode) bool {
	var be *BaseError
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// CodeOf 返回错误链中第一个 BaseError 的代码，没有则返回空字符串。
func CodeOf(err error) ErrorCode {
	var be *BaseError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
