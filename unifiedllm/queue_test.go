package unifiedllm

import (
	"context"
	"testing"
	"time"
)

func TestCallQueueAcquireRelease(t *testing.T) {
	q := NewCallQueue(1)
	if q.Capacity() != 1 {
		t.Fatalf("expected capacity 1, got %d", q.Capacity())
	}

	release, err := q.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.InFlight() != 1 {
		t.Errorf("expected 1 in flight, got %d", q.InFlight())
	}
	release()
	release() // second call is a no-op
	if q.InFlight() != 0 {
		t.Errorf("expected 0 in flight, got %d", q.InFlight())
	}

	release, err = q.Acquire(context.Background())
	if err != nil {
		t.Fatalf("slot should be reusable: %v", err)
	}
	release()
}

func TestCallQueueCancelWhileWaiting(t *testing.T) {
	q := NewCallQueue(1)
	release, err := q.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = q.Acquire(ctx)
	if _, ok := err.(*AbortError); !ok {
		t.Fatalf("expected AbortError, got %T (%v)", err, err)
	}
	if IsRetryable(err) {
		t.Error("cancellation must not be retryable")
	}
	if q.Waiting() != 0 {
		t.Errorf("expected no waiters, got %d", q.Waiting())
	}
}

func TestNewCallQueueMinimumCapacity(t *testing.T) {
	if got := NewCallQueue(0).Capacity(); got != 1 {
		t.Errorf("expected capacity 1, got %d", got)
	}
}
