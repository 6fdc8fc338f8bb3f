package error

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseError_Error(t *testing.T) {
	err := NewError(ErrTimeout, "fetch timed out after 50ms")
	assert.Equal(t, "TIMEOUT: fetch timed out after 50ms", err.Error())

	cause := errors.New("connection refused")
	wrapped := WrapError(ErrSinkUnavailable, "redis publish failed", cause)
	assert.Equal(t, "SINK_UNAVAILABLE: redis publish failed: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestBaseError_IsByCode(t *testing.T) {
	a := NewError(ErrTimeout, "a")
	b := Newf(ErrTimeout, "b %d", 1)
	c := NewError(ErrConfigInvalid, "c")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewError(ErrCircuitOpen, "breaker open"))

	assert.True(t, HasCode(err, ErrCircuitOpen))
	assert.False(t, HasCode(err, ErrTimeout))
	assert.False(t, HasCode(errors.New("plain"), ErrTimeout))
	assert.Equal(t, ErrCircuitOpen, CodeOf(err))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestWithContext(t *testing.T) {
	err := NewError(ErrTimeout, "timeout").WithContext("key", "user:1")
	assert.Equal(t, "user:1", err.Context["key"])

	var empty BaseError
	empty.WithContext("k", 1)
	assert.Equal(t, 1, empty.Context["k"])
}
