package search

import (
	"context"

	"golang.org/x/time/rate"
)

// waitProviderRateLimit paces live calls per platform. Platforms without a
// configured rate are not limited.
func (s *Service) waitProviderRateLimit(ctx context.Context, name string) error {
	limiter := s.platformLimiter(name)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func (s *Service) platformLimiter(name string) *rate.Limiter {
	override, ok := s.overrides[name]
	if !ok || override.RateLimit <= 0 {
		return nil
	}

	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	if limiter, exists := s.limiters[name]; exists {
		return limiter
	}
	burst := override.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(override.RateLimit), burst)
	s.limiters[name] = limiter
	return limiter
}
