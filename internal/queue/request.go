package queue

import (
	"context"
	"sync"
	"time"
)

// Priority orders waiting requests. Higher priorities overtake lower ones
// still waiting; within a priority band dispatch is FIFO by enqueue time.
type Priority int

const (
	// PriorityLow is background work.
	PriorityLow Priority = iota
	// PriorityNormal is the default.
	PriorityNormal
	// PriorityHigh overtakes normal and low work.
	PriorityHigh
	// PriorityCritical overtakes everything still waiting.
	PriorityCritical
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a queued request.
type Status string

const (
	// StatusPending means the request is waiting for dispatch.
	StatusPending Status = "pending"
	// StatusProcessing means the request occupies a concurrency slot.
	StatusProcessing Status = "processing"
	// StatusCompleted means the request settled successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the request settled with an error after any retries.
	StatusFailed Status = "failed"
	// StatusCancelled means the caller cancelled the request.
	StatusCancelled Status = "cancelled"
	// StatusTimeout means the request's own timer fired during execution.
	StatusTimeout Status = "timeout"
)

// Request is one caller-facing unit of work awaiting dispatch. Its id lives
// in a different space from the wire-level correlation ids used by the
// protocol client.
type Request struct {
	ID         string
	Method     string
	Params     any
	Priority   Priority
	Status     Status
	RetryCount int
	MaxRetries int
	Timeout    time.Duration
	Delay      time.Duration
	Tags       []string
	EnqueuedAt time.Time

	// notBefore holds back delayed or backoff-rescheduled requests.
	notBefore time.Time

	future *Future

	// cancel aborts the executor context while the request is active.
	// Cancellation is cooperative; the handler may keep running, but the
	// caller-visible result settles immediately.
	cancel context.CancelFunc
}

// Future is a deferred result that settles exactly once.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// settle resolves or rejects the future. Later calls are no-ops.
func (f *Future) settle(value any, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until settlement or ctx cancellation.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnqueueOption customizes a single request at admission time.
type EnqueueOption func(*Request)

// WithPriority sets the request priority.
func WithPriority(p Priority) EnqueueOption {
	return func(r *Request) { r.Priority = p }
}

// WithTimeout sets the per-request execution timeout.
func WithTimeout(d time.Duration) EnqueueOption {
	return func(r *Request) { r.Timeout = d }
}

// WithMaxRetries caps retries for this request.
func WithMaxRetries(n int) EnqueueOption {
	return func(r *Request) { r.MaxRetries = n }
}

// WithDelay holds the request back for at least d before first dispatch.
func WithDelay(d time.Duration) EnqueueOption {
	return func(r *Request) { r.Delay = d }
}

// WithTags attaches caller tags, visible in statistics and lookups.
func WithTags(tags ...string) EnqueueOption {
	return func(r *Request) { r.Tags = append(r.Tags, tags...) }
}
