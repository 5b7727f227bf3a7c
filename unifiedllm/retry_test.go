package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func serverError() error {
	return &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "server error"}, Retryable: true}}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{20, time.Second},
	}
	for _, tt := range tests {
		if got := policy.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	flat := RetryPolicy{BaseDelay: time.Second}
	if got := flat.Delay(5); got != time.Second {
		t.Errorf("multiplier below 1 should not shrink delays, got %v", got)
	}
}

func TestRetryPolicyJitterRange(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: true}
	for i := 0; i < 100; i++ {
		got := policy.Delay(0)
		if got < 500*time.Millisecond || got >= 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestRetry(t *testing.T) {
	auth := &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "invalid key"}}}

	tests := []struct {
		name      string
		retries   int
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{name: "immediate success", retries: 2, failures: 0, wantCalls: 1},
		{name: "recovers", retries: 3, failures: 2, err: serverError(), wantCalls: 3},
		{name: "exhausted", retries: 2, failures: 10, err: serverError(), wantCalls: 3, wantErr: true},
		{name: "non retryable", retries: 3, failures: 10, err: auth, wantCalls: 1, wantErr: true},
		{name: "wrapped non retryable", retries: 3, failures: 10, err: fmt.Errorf("call: %w", auth), wantCalls: 1, wantErr: true},
		{name: "no retries", retries: 0, failures: 10, err: serverError(), wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := Retry(context.Background(), fastPolicy(tt.retries), func(ctx context.Context) (string, error) {
				calls++
				if calls <= tt.failures {
					return "", tt.err
				}
				return "ok", nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != "ok" {
				t.Errorf("result = %q, want ok", got)
			}
		})
	}
}

func TestRetryReportsAttempts(t *testing.T) {
	policy := fastPolicy(2)
	var attempts []int
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	_, _ = Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		return 0, serverError()
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestRetryCancelledDuringWait(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Minute, MaxDelay: time.Minute, Multiplier: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := Retry(ctx, policy, func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("always fails")
	})
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("expected AbortError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("abort should carry the context error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryAfter(t *testing.T) {
	long, short := 5.0, 0.001
	rateLimited := func(after *float64) error {
		return fmt.Errorf("provider: %w", &RateLimitError{ProviderError: ProviderError{Retryable: true, RetryAfter: after}})
	}

	policy := RetryPolicy{MaxRetries: 1, BaseDelay: time.Hour, MaxDelay: time.Second, Multiplier: 1}
	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		return "", rateLimited(&long)
	})
	if err == nil || calls != 1 {
		t.Errorf("Retry-After beyond MaxDelay should stop retrying: calls=%d err=%v", calls, err)
	}

	calls = 0
	got, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", rateLimited(&short)
		}
		return "ok", nil
	})
	if err != nil || got != "ok" || calls != 2 {
		t.Errorf("short Retry-After should replace the hour backoff: calls=%d got=%q err=%v", calls, got, err)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxRetries != 2 || p.BaseDelay != time.Second || p.MaxDelay != time.Minute || p.Multiplier != 2 || !p.Jitter {
		t.Errorf("unexpected default policy: %+v", p)
	}
}
