package fetch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryopt/pkg/config"
	errs "queryopt/pkg/error"
	"queryopt/pkg/optimizer"
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "test",
		ReadyToTrip: 3,
		Timeout:     time.Minute,
	})

	boom := errors.New("db down")
	var calls int32
	fn := b.Wrap(func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	})

	for i := 0; i < 3; i++ {
		_, err := fn(context.Background())
		assert.Same(t, boom, err, "熔断前返回原始错误")
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := fn(context.Background())
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.ErrCircuitOpen))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "熔断后不应调用查询函数")
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", ReadyToTrip: 2})

	fail := true
	fn := b.Wrap(func(ctx context.Context) (interface{}, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return "ok", nil
	})

	_, _ = fn(context.Background())
	fail = false
	v, err := fn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	fail = true
	_, _ = fn(context.Background())
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, uint32(1), b.Counts().ConsecutiveFailures)
}

func TestCircuitBreaker_WithOptimizer(t *testing.T) {
	cfg := config.Default()
	cfg.Sweep.Schedule = ""
	o, err := optimizer.New(cfg)
	require.NoError(t, err)
	defer o.Close()

	b := NewCircuitBreaker(CircuitBreakerConfig{Name: "patients", ReadyToTrip: 1, Timeout: time.Minute})
	fn := b.Wrap(func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("connection refused")
	})

	_, err = o.Execute(context.Background(), "patients:list", fn)
	require.Error(t, err)

	_, err = o.Execute(context.Background(), "patients:list", fn)
	assert.True(t, errs.HasCode(err, errs.ErrCircuitOpen), "熔断错误应像查询错误一样传递给调用方")
}

func TestCircuitBreaker_InvalidRequestsDoNotTrip(t *testing.T) {
	b := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", ReadyToTrip: 2})
	fn := b.Wrap(func(ctx context.Context) (interface{}, error) {
		return nil, errs.NewError(errs.ErrInvalidRequest, "bad patient id")
	})

	for i := 0; i < 5; i++ {
		_, err := fn(context.Background())
		assert.True(t, errs.HasCode(err, errs.ErrInvalidRequest))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
