package queue

import (
	"math/rand/v2"
	"time"

	"github.com/toolwire/mcp-client-go/internal/errors"
)

// RetryStrategy decides whether and when a failed request is re-attempted.
//
// The queue consults ShouldRetry with the failure and the attempt count
// already made; timeouts never reach the strategy.
type RetryStrategy interface {
	// ShouldRetry reports whether another attempt is worthwhile after err.
	// attempt is the number of attempts already made (1 for the first failure).
	ShouldRetry(err error, attempt int) bool

	// NextDelay returns how long to wait before the given attempt number.
	NextDelay(attempt int) time.Duration

	// MaxRetries is the default retry ceiling for requests that do not set
	// their own.
	MaxRetries() int
}

// Defaults for ExponentialBackoff.
const (
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffCap  = 30 * time.Second
	DefaultMaxRetries  = 3
)

// ExponentialBackoff is the default retry strategy: delay doubles per
// attempt up to a cap, scaled by a random multiplier in [0.5, 1.0) so
// retries from independent callers do not synchronize.
//
// Retryability is decided from the structural error kind: transport-level
// failures, temporary unavailability, and internal-server-shaped remote
// errors are retried; client-error kinds (validation, permission,
// unsupported method) and anything unclassified are not. This is a policy
// choice, not a structural guarantee; substitute another RetryStrategy for
// different behavior.
type ExponentialBackoff struct {
	// Base is the delay before the first retry. Zero means DefaultBackoffBase.
	Base time.Duration

	// Cap is the maximum delay. Zero means DefaultBackoffCap.
	Cap time.Duration

	// Retries is the default retry ceiling. Zero means DefaultMaxRetries.
	Retries int

	// Classify overrides the retryable-kind predicate when non-nil.
	Classify func(kind errors.Kind) bool

	// rng overrides the jitter source under test.
	rng func() float64
}

// Compile-time verification that ExponentialBackoff implements RetryStrategy.
var _ RetryStrategy = (*ExponentialBackoff)(nil)

// ShouldRetry implements RetryStrategy. The queue enforces the per-request
// retry ceiling; the strategy only classifies the failure.
func (b *ExponentialBackoff) ShouldRetry(err error, _ int) bool {
	if err == nil {
		return false
	}

	kind := errors.KindOf(err)
	if b.Classify != nil {
		return b.Classify(kind)
	}

	switch kind {
	case errors.KindTransport, errors.KindUnavailable, errors.KindInternal:
		return true
	default:
		return false
	}
}

// NextDelay implements RetryStrategy.
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}

	capped := b.Cap
	if capped <= 0 {
		capped = DefaultBackoffCap
	}

	delay := base << uint(attempt)
	if delay <= 0 || delay > capped {
		delay = capped
	}

	// Jitter multiplier in [0.5, 1.0).
	f := b.rng
	if f == nil {
		f = rand.Float64
	}

	return time.Duration(float64(delay) * (0.5 + f()/2))
}

// MaxRetries implements RetryStrategy.
func (b *ExponentialBackoff) MaxRetries() int {
	if b.Retries <= 0 {
		return DefaultMaxRetries
	}

	return b.Retries
}
