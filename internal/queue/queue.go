package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolwire/mcp-client-go/internal/errors"
)

// Defaults for Config.
const (
	DefaultMaxConcurrent = 3
	DefaultMaxQueueSize  = 100
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultTimeout       = 30 * time.Second
	DefaultHistoryLimit  = 64
)

// RateLimit configures the sliding-window limiter. A nil RateLimit in
// Config disables rate limiting.
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
}

// Config holds queue settings. The zero value is usable: priority ordering
// on, rate limiting off, defaults for everything else.
type Config struct {
	// MaxConcurrent bounds how many requests execute at once.
	MaxConcurrent int

	// MaxQueueSize bounds the waiting list; admission beyond it fails fast.
	MaxQueueSize int

	// TickInterval is the dispatch loop period.
	TickInterval time.Duration

	// DefaultTimeout applies to requests that set none.
	DefaultTimeout time.Duration

	// DisablePriority makes dispatch strictly FIFO regardless of priority.
	DisablePriority bool

	// RateLimit enables sliding-window admission control when non-nil.
	RateLimit *RateLimit

	// HistoryLimit bounds the completed-request history buffer.
	HistoryLimit int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}

	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}

	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}

	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}

	return c
}

// Ticket identifies an enqueued request and carries its deferred result.
type Ticket struct {
	ID     string
	Future *Future
}

// Statistics is a point-in-time snapshot of queue counters.
type Statistics struct {
	Total         int64
	Completed     int64
	Failed        int64
	Cancelled     int64
	TimedOut      int64
	Retried       int64
	RateLimitHits int64
	QueueSize     int
	ActiveCount   int
	AvgProcessing time.Duration
	ByPriority    map[string]int
	Errors        map[string]int
}

// Queue decouples callers from the wire: it admits requests, orders them by
// priority (FIFO within a band), bounds concurrency, rate-limits dispatch,
// and applies retry policy. Actual method execution is delegated to the
// injected Executor.
type Queue struct {
	log      *slog.Logger
	cfg      Config
	exec     *Executor
	strategy RetryStrategy
	limiter  *RateLimiter

	mu        sync.Mutex
	waiting   []*Request
	active    map[string]*Request
	history   []*Request
	destroyed bool

	total         int64
	completed     int64
	failed        int64
	cancelled     int64
	timedOut      int64
	retried       int64
	rateLimitHits int64
	avgProcessing time.Duration
	errCounts     map[string]int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	now       func() time.Time
}

// New creates a request queue. strategy may be nil, in which case the
// default exponential backoff applies.
func New(log *slog.Logger, cfg Config, exec *Executor, strategy RetryStrategy) *Queue {
	if strategy == nil {
		strategy = &ExponentialBackoff{}
	}

	q := &Queue{
		log:       log.With("component", "queue"),
		cfg:       cfg.withDefaults(),
		exec:      exec,
		strategy:  strategy,
		active:    make(map[string]*Request, 8),
		errCounts: make(map[string]int, 8),
		done:      make(chan struct{}),
		now:       time.Now,
	}

	if rl := q.cfg.RateLimit; rl != nil {
		q.limiter = NewRateLimiter(rl.MaxRequests, rl.Window)
	}

	return q
}

// Start runs the dispatch loop until Destroy or ctx cancellation.
func (q *Queue) Start(ctx context.Context) {
	q.log.Debug("Starting dispatch loop", "interval", q.cfg.TickInterval)

	q.wg.Go(func() {
		ticker := time.NewTicker(q.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				q.tick(ctx)
			case <-q.done:
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Enqueue admits one request and returns its ticket. It fails fast with
// ErrQueueDestroyed after Destroy and with ErrQueueFull at capacity.
func (q *Queue) Enqueue(method string, params any, opts ...EnqueueOption) (*Ticket, error) {
	req := &Request{
		ID:         uuid.NewString(),
		Method:     method,
		Params:     params,
		Priority:   PriorityNormal,
		Status:     StatusPending,
		MaxRetries: q.strategy.MaxRetries(),
		Timeout:    q.cfg.DefaultTimeout,
		future:     newFuture(),
	}

	for _, opt := range opts {
		opt(req)
	}

	now := q.now()
	req.EnqueuedAt = now

	if req.Delay > 0 {
		req.notBefore = now.Add(req.Delay)
	}

	q.mu.Lock()

	if q.destroyed {
		q.mu.Unlock()

		return nil, errors.ErrQueueDestroyed
	}

	if len(q.waiting) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()

		return nil, fmt.Errorf("%w (size %d)", errors.ErrQueueFull, q.cfg.MaxQueueSize)
	}

	q.waiting = append(q.waiting, req)
	q.total++

	q.mu.Unlock()

	q.log.Debug("Request enqueued",
		"id", req.ID,
		"method", method,
		"priority", req.Priority.String(),
	)

	return &Ticket{ID: req.ID, Future: req.future}, nil
}

// Cancel settles the identified request with a cancellation error. It
// searches the waiting list first, then the active set. Cancellation of an
// active request is cooperative: the executor context is cancelled but the
// handler is not forcibly aborted.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()

	for i, req := range q.waiting {
		if req.ID != id {
			continue
		}

		q.waiting = slices.Delete(q.waiting, i, i+1)
		req.Status = StatusCancelled
		q.cancelled++
		q.pushHistory(req)

		fut := req.future

		q.mu.Unlock()

		fut.settle(nil, errors.ErrCancelled)
		q.log.Debug("Cancelled waiting request", "id", id)

		return true
	}

	req, ok := q.active[id]
	if !ok {
		q.mu.Unlock()

		return false
	}

	req.Status = StatusCancelled
	q.cancelled++

	fut, cancel := req.future, req.cancel

	q.mu.Unlock()

	fut.settle(nil, errors.ErrCancelled)

	if cancel != nil {
		cancel()
	}

	q.log.Debug("Cancelled active request", "id", id)

	return true
}

// Destroy stops the dispatch loop, settles every waiting and active request
// with ErrQueueDestroyed, and waits for executing goroutines to observe
// cancellation. No Future is ever left unsettled.
func (q *Queue) Destroy() {
	q.closeOnce.Do(func() {
		q.mu.Lock()

		q.destroyed = true
		waiting := q.waiting
		q.waiting = nil

		actives := make([]*Request, 0, len(q.active))
		cancels := make([]context.CancelFunc, 0, len(q.active))

		for _, req := range q.active {
			req.Status = StatusCancelled
			actives = append(actives, req)

			if req.cancel != nil {
				cancels = append(cancels, req.cancel)
			}
		}

		q.mu.Unlock()

		close(q.done)

		for _, req := range waiting {
			req.Status = StatusCancelled
			req.future.settle(nil, errors.ErrQueueDestroyed)
		}

		for _, req := range actives {
			req.future.settle(nil, errors.ErrQueueDestroyed)
		}

		for _, cancel := range cancels {
			cancel()
		}

		q.log.Debug("Queue destroyed",
			"cancelled_waiting", len(waiting),
			"cancelled_active", len(actives),
		)
	})

	q.wg.Wait()
}

// Statistics returns a snapshot of the queue's counters.
func (q *Queue) Statistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	byPriority := make(map[string]int, 4)
	for _, req := range q.waiting {
		byPriority[req.Priority.String()]++
	}

	errCounts := make(map[string]int, len(q.errCounts))
	for k, v := range q.errCounts {
		errCounts[k] = v
	}

	return Statistics{
		Total:         q.total,
		Completed:     q.completed,
		Failed:        q.failed,
		Cancelled:     q.cancelled,
		TimedOut:      q.timedOut,
		Retried:       q.retried,
		RateLimitHits: q.rateLimitHits,
		QueueSize:     len(q.waiting),
		ActiveCount:   len(q.active),
		AvgProcessing: q.avgProcessing,
		ByPriority:    byPriority,
		Errors:        errCounts,
	}
}

// tick runs one dispatch pass: capacity check, rate-limit gate, priority
// sort, delay filter, then dispatch into free slots.
func (q *Queue) tick(ctx context.Context) {
	q.mu.Lock()

	if q.destroyed {
		q.mu.Unlock()

		return
	}

	free := q.cfg.MaxConcurrent - len(q.active)
	if free <= 0 || len(q.waiting) == 0 {
		q.mu.Unlock()

		return
	}

	if q.limiter != nil && !q.limiter.Allow() {
		q.rateLimitHits++
		q.mu.Unlock()

		q.log.Debug("Rate limit reached; skipping tick")

		return
	}

	if !q.cfg.DisablePriority {
		slices.SortStableFunc(q.waiting, func(a, b *Request) int {
			if a.Priority != b.Priority {
				return int(b.Priority) - int(a.Priority)
			}

			return a.EnqueuedAt.Compare(b.EnqueuedAt)
		})
	}

	now := q.now()
	batch := make([]*Request, 0, free)
	kept := q.waiting[:0]
	limited := false

	for _, req := range q.waiting {
		if len(batch) >= free || limited || req.notBefore.After(now) {
			kept = append(kept, req)

			continue
		}

		// Re-check per dispatch so a tick never overruns the window.
		if q.limiter != nil && !q.limiter.Allow() {
			q.rateLimitHits++
			limited = true
			kept = append(kept, req)

			continue
		}

		if q.limiter != nil {
			q.limiter.Record()
		}

		req.Status = StatusProcessing
		q.active[req.ID] = req
		batch = append(batch, req)
	}

	q.waiting = kept

	q.mu.Unlock()

	for _, req := range batch {
		q.wg.Go(func() {
			q.execute(ctx, req)
		})
	}
}

type execResult struct {
	value any
	err   error
}

// execute races one dispatched request against its own timeout.
func (q *Queue) execute(ctx context.Context, req *Request) {
	cctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	q.mu.Lock()
	req.cancel = cancel
	cancelled := req.Status == StatusCancelled
	q.mu.Unlock()

	if cancelled {
		q.finish(req)

		return
	}

	start := q.now()
	resCh := make(chan execResult, 1)

	go func() {
		value, err := q.exec.Execute(cctx, req.Method, req.Params)
		resCh <- execResult{value: value, err: err}
	}()

	select {
	case res := <-resCh:
		// The handler result and the deadline can be ready at once. The
		// deadline wins so the outcome is a timeout, not a failure.
		if res.err != nil && cctx.Err() == context.DeadlineExceeded {
			q.timeout(req)

			return
		}

		q.settle(req, res, q.now().Sub(start))

	case <-cctx.Done():
		if cctx.Err() == context.DeadlineExceeded {
			q.timeout(req)

			return
		}

		// Cancelled: the future was already settled by Cancel or Destroy.
		q.finish(req)
	}
}

// settle handles a handler result: success, retry, or terminal failure.
func (q *Queue) settle(req *Request, res execResult, elapsed time.Duration) {
	if res.err == nil {
		q.mu.Lock()

		delete(q.active, req.ID)
		req.Status = StatusCompleted
		q.completed++
		q.avgProcessing += (elapsed - q.avgProcessing) / time.Duration(q.completed)
		q.pushHistory(req)

		q.mu.Unlock()

		req.future.settle(res.value, nil)
		q.log.Debug("Request completed", "id", req.ID, "elapsed", elapsed)

		return
	}

	attempt := req.RetryCount + 1

	q.mu.Lock()

	if req.Status == StatusCancelled || q.destroyed {
		delete(q.active, req.ID)
		q.pushHistory(req)
		q.mu.Unlock()

		return
	}

	if req.RetryCount < req.MaxRetries && q.strategy.ShouldRetry(res.err, attempt) {
		delete(q.active, req.ID)

		req.RetryCount++
		req.Status = StatusPending

		now := q.now()
		delay := q.strategy.NextDelay(req.RetryCount)
		req.notBefore = now.Add(delay)
		req.EnqueuedAt = now
		req.cancel = nil

		q.waiting = append(q.waiting, req)
		q.retried++

		q.mu.Unlock()

		q.log.Debug("Retrying request",
			"id", req.ID,
			"attempt", attempt,
			"delay", delay,
			"error", res.err,
		)

		return
	}

	delete(q.active, req.ID)
	req.Status = StatusFailed
	q.failed++
	q.errCounts[res.err.Error()]++
	q.pushHistory(req)

	q.mu.Unlock()

	req.future.settle(nil, res.err)
	q.log.Debug("Request failed", "id", req.ID, "error", res.err)
}

// timeout marks a request as timed out. Timeouts are terminal: retry policy
// is never applied to them.
func (q *Queue) timeout(req *Request) {
	err := fmt.Errorf("%w: %s after %s", errors.ErrRequestTimeout, req.Method, req.Timeout)

	q.mu.Lock()

	if req.Status == StatusCancelled {
		delete(q.active, req.ID)
		q.pushHistory(req)
		q.mu.Unlock()

		return
	}

	delete(q.active, req.ID)
	req.Status = StatusTimeout
	q.timedOut++
	q.errCounts[err.Error()]++
	q.pushHistory(req)

	q.mu.Unlock()

	req.future.settle(nil, err)
	q.log.Debug("Request timed out", "id", req.ID, "timeout", req.Timeout)
}

// finish removes a settled-elsewhere request from the active set.
func (q *Queue) finish(req *Request) {
	q.mu.Lock()

	delete(q.active, req.ID)
	q.pushHistory(req)

	q.mu.Unlock()
}

// pushHistory appends to the bounded completed-history buffer. Caller
// holds mu.
func (q *Queue) pushHistory(req *Request) {
	q.history = append(q.history, req)
	if len(q.history) > q.cfg.HistoryLimit {
		q.history = q.history[len(q.history)-q.cfg.HistoryLimit:]
	}
}

// History returns a copy of the bounded terminal-settlement history.
func (q *Queue) History() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Clone(q.history)
}
