package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"
)

// StatusError is returned for non-2xx platform responses.
type StatusError struct {
	StatusCode int
	Platform   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s HTTP %d", e.Platform, e.StatusCode)
}

// Policy is the pacing and retry policy shared by scraping platforms.
type Policy struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	// MaxAttempts counts every call including the first, so 3 means two retries.
	MaxAttempts int
	// BackoffBase is scaled by 2^attempt after each transient failure.
	BackoffBase time.Duration
}

// DefaultPolicy: 1-3s random pause before each request, 3 attempts, 1s/2s backoff.
func DefaultPolicy() Policy {
	return Policy{
		MinDelay:    time.Second,
		MaxDelay:    3 * time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Second,
	}
}

// NoPacing keeps retries but removes the inter-request pause.
func (p Policy) NoPacing() Policy {
	p.MinDelay = 0
	p.MaxDelay = 0
	return p
}

// Do runs fn up to MaxAttempts times. Non-transient errors stop immediately.
// The last error is returned when attempts run out.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := sleepContext(ctx, p.pause()); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}
		if err := sleepContext(ctx, p.backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func (p Policy) pause() time.Duration {
	if p.MaxDelay <= 0 {
		return 0
	}
	if p.MaxDelay <= p.MinDelay {
		return p.MinDelay
	}
	spread := p.MaxDelay - p.MinDelay
	return p.MinDelay + time.Duration(rand.Int64N(int64(spread)+1))
}

func (p Policy) backoff(attempt int) time.Duration {
	if p.BackoffBase <= 0 {
		return 0
	}
	return p.BackoffBase * time.Duration(1<<attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient reports errors that may succeed on retry: timeouts, connection
// resets, EOF, throttling and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusForbidden,
			statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "tls") ||
		strings.Contains(lower, "eof")
}
