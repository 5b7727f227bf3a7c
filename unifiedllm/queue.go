package unifiedllm

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// CallQueue bounds concurrent provider calls. Callers suspend in Acquire
// until a slot frees up or their context ends.
type CallQueue struct {
	sem      *semaphore.Weighted
	capacity int64
	waiting  atomic.Int64
	inFlight atomic.Int64
}

// NewCallQueue creates a queue admitting at most n concurrent calls.
// n <= 0 is treated as 1.
func NewCallQueue(n int) *CallQueue {
	if n <= 0 {
		n = 1
	}
	return &CallQueue{
		sem:      semaphore.NewWeighted(int64(n)),
		capacity: int64(n),
	}
}

// Acquire waits for a slot. The returned release func must be called exactly
// once; extra calls are ignored.
func (q *CallQueue) Acquire(ctx context.Context) (func(), error) {
	q.waiting.Add(1)
	err := q.sem.Acquire(ctx, 1)
	q.waiting.Add(-1)
	if err != nil {
		return nil, &AbortError{SDKError: SDKError{Message: "cancelled while waiting for an LLM call slot", Cause: err}}
	}
	q.inFlight.Add(1)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			q.inFlight.Add(-1)
			q.sem.Release(1)
		}
	}, nil
}

// Capacity returns the maximum number of concurrent calls.
func (q *CallQueue) Capacity() int { return int(q.capacity) }

// InFlight returns the number of calls currently holding a slot.
func (q *CallQueue) InFlight() int { return int(q.inFlight.Load()) }

// Waiting returns the number of callers blocked in Acquire.
func (q *CallQueue) Waiting() int { return int(q.waiting.Load()) }
