package mirror

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterStore manages per-tenant rate limiters: tenant_id -> rate limiter.
// The same store type paces remote calls and throttles ops triggers; each use
// gets its own store.
type RateLimiterStore struct {
	limiters     map[string]*rate.Limiter
	mu           sync.Mutex
	defaultRate  rate.Limit
	defaultBurst int
}

func NewRateLimiterStore(defaultRate rate.Limit, defaultBurst int) *RateLimiterStore {
	return &RateLimiterStore{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  defaultRate,
		defaultBurst: defaultBurst,
	}
}

func (s *RateLimiterStore) GetLimiter(tenantID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[tenantID]
	if !exists {
		limiter = rate.NewLimiter(s.defaultRate, s.defaultBurst)
		s.limiters[tenantID] = limiter
	}
	return limiter
}

func (s *RateLimiterStore) SetLimiter(tenantID string, tenantRate rate.Limit, tenantBurst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiters[tenantID] = rate.NewLimiter(tenantRate, tenantBurst)
}

// Allow reports whether one more call for tenantID fits its limiter. A nil
// store allows everything.
func (s *RateLimiterStore) Allow(tenantID string) bool {
	if s == nil {
		return true
	}
	return s.GetLimiter(tenantID).Allow()
}

// Reset drops a tenant's custom limiter so it falls back to the defaults.
// Any tokens the tenant had spent are forgotten too.
func (s *RateLimiterStore) Reset(tenantID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limiters, tenantID)
}
