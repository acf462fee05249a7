package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/toolwire/mcp-client-go/internal/errors"
)

func TestExponentialBackoffClassification(t *testing.T) {
	b := &ExponentialBackoff{}

	assert.True(t, b.ShouldRetry(errors.ErrConnectionLost, 1))
	assert.True(t, b.ShouldRetry(errors.Unavailable(fmt.Errorf("peer overloaded")), 1))
	assert.True(t, b.ShouldRetry(&errors.RPCError{Code: errors.CodeInternalError, Message: "boom"}, 1))

	assert.False(t, b.ShouldRetry(nil, 1))
	assert.False(t, b.ShouldRetry(&errors.RPCError{Code: errors.CodeInvalidParams, Message: "bad"}, 1))
	assert.False(t, b.ShouldRetry(&errors.ValidationError{Field: "name", Reason: "empty"}, 1))
	assert.False(t, b.ShouldRetry(&errors.PermissionError{Tool: "x"}, 1))
	assert.False(t, b.ShouldRetry(errors.ErrCancelled, 1))
	assert.False(t, b.ShouldRetry(fmt.Errorf("some arbitrary failure"), 1))
}

func TestExponentialBackoffCustomClassify(t *testing.T) {
	b := &ExponentialBackoff{
		Classify: func(kind errors.Kind) bool {
			return kind == errors.KindTimeout
		},
	}

	assert.True(t, b.ShouldRetry(errors.ErrRequestTimeout, 1))
	assert.False(t, b.ShouldRetry(errors.ErrConnectionLost, 1))
}

func TestNextDelayDoublesUpToCap(t *testing.T) {
	// Pin jitter to the top of its range so delays are exact.
	b := &ExponentialBackoff{
		Base: 100 * time.Millisecond,
		Cap:  time.Second,
		rng:  func() float64 { return 0.999999999 },
	}

	assert.InDelta(t, float64(200*time.Millisecond), float64(b.NextDelay(1)), float64(time.Millisecond))
	assert.InDelta(t, float64(400*time.Millisecond), float64(b.NextDelay(2)), float64(time.Millisecond))
	assert.InDelta(t, float64(800*time.Millisecond), float64(b.NextDelay(3)), float64(time.Millisecond))

	// Past the cap the delay stops growing.
	assert.InDelta(t, float64(time.Second), float64(b.NextDelay(4)), float64(10*time.Millisecond))
	assert.InDelta(t, float64(time.Second), float64(b.NextDelay(20)), float64(10*time.Millisecond))
}

func TestNextDelayJitterBounds(t *testing.T) {
	b := &ExponentialBackoff{Base: 100 * time.Millisecond, Cap: time.Second}

	for range 200 {
		d := b.NextDelay(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 200*time.Millisecond)
	}
}

func TestMaxRetriesDefault(t *testing.T) {
	assert.Equal(t, DefaultMaxRetries, (&ExponentialBackoff{}).MaxRetries())
	assert.Equal(t, 7, (&ExponentialBackoff{Retries: 7}).MaxRetries())
}
