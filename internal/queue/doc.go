// Package queue decouples "call method M with params P" from "send it now".
//
// Requests are admitted into a bounded waiting list, dispatched on a fixed
// tick by priority (FIFO within a band), bounded by a concurrency limit,
// gated by an optional sliding-window rate limiter, and retried per an
// injected RetryStrategy. Execution is delegated to an Executor: a closed
// method table whose default branch fails with an unsupported-method error.
//
// Requests of equal priority dispatch in enqueue order; higher priorities
// overtake waiting work but never preempt a request already dispatched.
package queue
