package optimizer

import (
	"time"

	"github.com/sirupsen/logrus"
)

// RefreshThreshold 命中条目的年龄超过 TTL 的该比例时触发后台刷新。固定值，不可配置。
const RefreshThreshold = 0.8

// execOptions 单次 Execute 的选项
type execOptions struct {
	ttl                  time.Duration
	deduplicate          bool
	staleWhileRevalidate bool
}

// ExecOption 配置单次 Execute
type ExecOption func(*execOptions)

// WithTTL 新缓存条目的生存时间，<= 0 时使用默认值
func WithTTL(ttl time.Duration) ExecOption {
	return func(o *execOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithDeduplicate 是否与同键的并发调用共享一次查询，默认 true。
// 为 false 时总是执行查询函数，即使缓存新鲜。
func WithDeduplicate(dedup bool) ExecOption {
	return func(o *execOptions) {
		o.deduplicate = dedup
	}
}

// WithStaleWhileRevalidate 命中即将过期的条目时在后台刷新，默认 false
func WithStaleWhileRevalidate(swr bool) ExecOption {
	return func(o *execOptions) {
		o.staleWhileRevalidate = swr
	}
}

// Option 配置 Optimizer
type Option func(*Optimizer)

// WithLogger 替换日志器
func WithLogger(log *logrus.Entry) Option {
	return func(o *Optimizer) {
		if log != nil {
			o.log = log
		}
	}
}

// WithObserver 设置事件观察者，例如 prometheus 指标收集器
func WithObserver(obs Observer) Option {
	return func(o *Optimizer) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithClock 替换时钟，测试中使用
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) {
		if now != nil {
			o.now = now
		}
	}
}
