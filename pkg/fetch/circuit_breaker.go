package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	errs "queryopt/pkg/error"
	"queryopt/pkg/logger"
	"queryopt/pkg/runner"
)

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	Name        string        `json:"name" mapstructure:"name"`                   // 熔断器名称
	MaxRequests uint32        `json:"max_requests" mapstructure:"max_requests"`   // 半开状态下的最大请求数
	Interval    time.Duration `json:"interval" mapstructure:"interval"`           // 统计窗口时间
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`             // 熔断器打开后的超时时间
	ReadyToTrip uint32        `json:"ready_to_trip" mapstructure:"ready_to_trip"` // 触发熔断的连续失败次数
}

// DefaultCircuitBreakerConfig 默认熔断器配置
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        "query",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: 5,
	}
}

// CircuitBreaker 包装查询函数。熔断器打开时直接返回 CIRCUIT_OPEN 错误，不调用 fn。
// 查询函数自身的错误原样返回。
type CircuitBreaker struct {
	cb  *gobreaker.CircuitBreaker
	log *logrus.Entry
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.ReadyToTrip == 0 {
		config.ReadyToTrip = DefaultCircuitBreakerConfig().ReadyToTrip
	}
	b := &CircuitBreaker{
		log: logger.WithComponent("circuit_breaker").WithField("name", config.Name),
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ReadyToTrip
		},
		// 无效请求是调用方的问题，不计入熔断
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.WithFields(logrus.Fields{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("熔断器状态变更")
		},
	})
	return b
}

// Wrap 返回受熔断器保护的查询函数
func (b *CircuitBreaker) Wrap(fn runner.Func) runner.Func {
	return func(ctx context.Context) (interface{}, error) {
		v, err := b.cb.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errs.WrapError(errs.ErrCircuitOpen, "circuit breaker "+b.cb.Name()+" rejected query", err)
		}
		return v, err
	}
}

// State 当前状态
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts 当前统计
func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
