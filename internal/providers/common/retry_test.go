package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BackoffBase: time.Millisecond}
}

func TestPolicyDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestPolicyDoExhaustsAttemptsOnTransientStatus(t *testing.T) {
	var calls atomic.Int32
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls.Add(1)
		return &StatusError{StatusCode: http.StatusServiceUnavailable, Platform: "danawa"}
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected last status error, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestPolicyDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		return &StatusError{StatusCode: http.StatusNotFound, Platform: "iherb"}
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one call and an error, got calls=%d err=%v", calls, err)
	}
}

func TestPolicyDoSucceedsAfterRetry(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return fmt.Errorf("connection reset by peer")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestPolicyDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 5, BackoffBase: 200 * time.Millisecond}
	calls := 0
	started := time.Now()
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return fmt.Errorf("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if time.Since(started) > 150*time.Millisecond {
		t.Fatal("expected cancellation to interrupt backoff")
	}
}

func TestPolicyBackoffDoubles(t *testing.T) {
	p := DefaultPolicy()
	if p.backoff(0) != time.Second || p.backoff(1) != 2*time.Second || p.backoff(2) != 4*time.Second {
		t.Fatalf("unexpected backoff sequence: %s %s %s", p.backoff(0), p.backoff(1), p.backoff(2))
	}
}

func TestPolicyPauseWithinWindow(t *testing.T) {
	p := Policy{MinDelay: 10 * time.Millisecond, MaxDelay: 30 * time.Millisecond}
	for i := 0; i < 50; i++ {
		d := p.pause()
		if d < p.MinDelay || d > p.MaxDelay {
			t.Fatalf("pause %s outside window", d)
		}
	}
	if DefaultPolicy().NoPacing().pause() != 0 {
		t.Fatal("expected no pause without pacing")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(&StatusError{StatusCode: http.StatusTooManyRequests}) {
		t.Fatal("expected 429 transient")
	}
	if IsTransient(&StatusError{StatusCode: http.StatusBadRequest}) {
		t.Fatal("expected 400 permanent")
	}
	if IsTransient(context.Canceled) {
		t.Fatal("expected cancellation permanent")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("expected deadline transient")
	}
	if IsTransient(errors.New("invalid character in json")) {
		t.Fatal("expected parse error permanent")
	}
}
