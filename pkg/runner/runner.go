package runner

import (
	"context"
	"time"

	errs "queryopt/pkg/error"
)

// Func 是被限时执行的查询函数。ctx 在超时或调用方取消时被取消。
type Func func(ctx context.Context) (interface{}, error)

type result struct {
	value interface{}
	err   error
}

// RunWithTimeout 在 timeout 内执行 fn，先完成的一方决定结果。
// 超时返回 TIMEOUT 错误，错误上下文携带 timeout；fn 的迟到结果被丢弃。
// fn 返回的错误原样传递给调用方。
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn Func) (interface{}, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 带缓冲，保证超时后 fn 的 goroutine 能够退出
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: errs.Newf(errs.ErrQueryPanic, "query panicked: %v", p)}
			}
		}()
		v, err := fn(runCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-runCtx.Done():
		// fn 与计时器同时就绪时，优先采用 fn 的结果
		select {
		case r := <-done:
			return r.value, r.err
		default:
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, TimeoutError(timeout)
	}
}

// TimeoutError 构造携带超时时长的 TIMEOUT 错误
func TimeoutError(timeout time.Duration) error {
	return errs.Newf(errs.ErrTimeout, "query timeout after %s", timeout).
		WithContext("timeout", timeout)
}

// IsTimeout 判断错误是否为超时错误
func IsTimeout(err error) bool {
	return errs.HasCode(err, errs.ErrTimeout)
}
