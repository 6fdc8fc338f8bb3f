package fetch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"queryopt/pkg/logger"
	"queryopt/pkg/runner"
)

// RetryConfig 调用方重试配置
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"` // 包括第一次调用
	Backoff     time.Duration `json:"backoff" mapstructure:"backoff"`           // 第 n 次重试等待 n*Backoff
}

// DefaultRetryConfig 默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff:     100 * time.Millisecond,
	}
}

// Retry 包装查询函数，只重试可重试的错误。
// 整个重试过程在同一个 ctx 内，放进 Execute 时受其超时约束。
func Retry(config RetryConfig, fn runner.Func) runner.Func {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	log := logger.WithComponent("retry")

	return func(ctx context.Context) (interface{}, error) {
		var lastErr error
		for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
			v, err := fn(ctx)
			if err == nil {
				return v, nil
			}
			lastErr = err

			if !IsRetryable(err) || attempt == config.MaxAttempts {
				break
			}

			wait := time.Duration(attempt) * config.Backoff
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"wait":    wait,
				"class":   Classify(err).String(),
				"error":   err,
			}).Debug("查询失败，准备重试")

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, lastErr
			case <-timer.C:
			}
		}
		return nil, lastErr
	}
}
