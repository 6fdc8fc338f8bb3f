package fetch

import (
	"context"
	"errors"
	"net"
	"strings"

	errs "queryopt/pkg/error"
)

// ErrorClass 查询错误的分类
type ErrorClass int

const (
	ClassNone      ErrorClass = iota // 没有错误
	ClassTransient                   // 超时、网络抖动，可重试
	ClassFatal                       // 下游不可用，不应重试
	ClassInvalid                     // 请求本身无效，不计入熔断
	ClassUnknown
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	case ClassInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Classify 根据错误代码、类型与内容对查询错误分类
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	switch errs.CodeOf(err) {
	case errs.ErrTimeout:
		return ClassTransient
	case errs.ErrCircuitOpen:
		return ClassFatal
	case errs.ErrInvalidRequest, errs.ErrTypeMismatch:
		return ClassInvalid
	}

	// 调用方自己取消的请求不重试
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "permission denied"):
		return ClassFatal
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "temporary failure"),
		strings.Contains(msg, "too many connections"):
		return ClassTransient
	case strings.Contains(msg, "invalid argument"),
		strings.Contains(msg, "syntax error"),
		strings.Contains(msg, "not found"):
		return ClassInvalid
	}
	return ClassUnknown
}

// IsRetryable 错误是否值得重试
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}

// countsAsFailure 熔断器是否把该错误计为失败
func countsAsFailure(err error) bool {
	c := Classify(err)
	return c != ClassNone && c != ClassInvalid
}
