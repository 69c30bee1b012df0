package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"pricecompare/searchservice/internal/domain"
	"pricecompare/searchservice/internal/metrics"
)

const (
	platformFailureThreshold = 3
	platformBlockBase        = 2 * time.Minute
	platformBlockMax         = 15 * time.Minute
)

// ErrPlatformBlocked is returned for a platform whose breaker is open.
var ErrPlatformBlocked = errors.New("platform temporarily unhealthy")

type platformHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	lastKeyword         string
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

// healthTracker is a per-platform circuit breaker: after three consecutive
// failures the platform is skipped for 2m, doubling per further failure up
// to 15m. One success closes it again.
type healthTracker struct {
	mu     sync.Mutex
	states map[string]*platformHealth
}

func newHealthTracker() *healthTracker {
	return &healthTracker{states: make(map[string]*platformHealth)}
}

func (h *healthTracker) state(name string) *platformHealth {
	state := h.states[name]
	if state == nil {
		state = &platformHealth{}
		h.states[name] = state
	}
	return state
}

// allow returns a wrapped ErrPlatformBlocked while the breaker is open.
func (h *healthTracker) allow(name string, now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.states[name]
	if state == nil || !now.Before(state.blockedUntil) {
		return nil
	}
	return fmt.Errorf("%w until %s: %s", ErrPlatformBlocked, state.blockedUntil.UTC().Format(time.RFC3339), state.lastError)
}

func (h *healthTracker) record(name, keyword string, err error, latency time.Duration, now time.Time) {
	// Shutdown cancellations say nothing about the platform.
	if errors.Is(err, context.Canceled) {
		return
	}
	timedOut := isTimeoutLikeError(err)

	h.mu.Lock()
	state := h.state(name)
	state.totalRequests++
	state.lastKeyword = strings.TrimSpace(keyword)
	state.lastLatency = latency
	state.lastTimeout = timedOut
	if timedOut {
		state.timeoutCount++
	}
	var opened bool
	if err == nil {
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		state.lastSuccessAt = now
	} else {
		state.consecutiveFailures++
		state.totalFailures++
		state.lastFailureAt = now
		state.lastError = err.Error()
		if state.consecutiveFailures >= platformFailureThreshold {
			state.blockedUntil = now.Add(blockDuration(state.consecutiveFailures))
			opened = true
		}
	}
	h.mu.Unlock()

	if latency > 0 {
		metrics.PlatformRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
	}
	switch {
	case err == nil:
		metrics.PlatformRequestsTotal.WithLabelValues(name, "ok").Inc()
		metrics.PlatformAvailable.WithLabelValues(name).Set(1)
	case timedOut:
		metrics.PlatformRequestsTotal.WithLabelValues(name, "timeout").Inc()
	default:
		metrics.PlatformRequestsTotal.WithLabelValues(name, "error").Inc()
	}
	if opened {
		metrics.PlatformAvailable.WithLabelValues(name).Set(0)
	}
}

// diagnostics fills the health fields of a platform's diagnostics row.
func (h *healthTracker) diagnostics(info domain.PlatformInfo) domain.PlatformDiagnostics {
	item := domain.PlatformDiagnostics{
		Name:    info.Name,
		Label:   info.Label,
		Kind:    info.Kind,
		Pool:    info.Pool,
		Enabled: info.Enabled,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	state := h.states[info.Name]
	if state == nil {
		return item
	}
	item.ConsecutiveFailures = state.consecutiveFailures
	item.BlockedUntil = timePtr(state.blockedUntil)
	item.LastError = state.lastError
	item.LastSuccessAt = timePtr(state.lastSuccessAt)
	item.LastFailureAt = timePtr(state.lastFailureAt)
	item.LastLatencyMS = state.lastLatency.Milliseconds()
	item.LastTimeout = state.lastTimeout
	item.LastKeyword = state.lastKeyword
	item.TotalRequests = state.totalRequests
	item.TotalFailures = state.totalFailures
	item.TimeoutCount = state.timeoutCount
	return item
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func blockDuration(consecutiveFailures int) time.Duration {
	exponent := max(consecutiveFailures-platformFailureThreshold, 0)
	if exponent >= 4 {
		return platformBlockMax
	}
	return min(platformBlockBase<<exponent, platformBlockMax)
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// PlatformDiagnostics reports breaker state and request counters per registered platform.
func (s *Service) PlatformDiagnostics() []domain.PlatformDiagnostics {
	infos := s.Platforms()
	items := make([]domain.PlatformDiagnostics, 0, len(infos))
	for _, info := range infos {
		items = append(items, s.health.diagnostics(info))
	}
	return items
}
