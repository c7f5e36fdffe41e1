package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/metrics"
)

type BreakerSettings struct {
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
}

// BreakerRegistry keeps one circuit breaker per tenant, so one unreachable
// platform does not trip calls for the others.
type BreakerRegistry struct {
	settings BreakerSettings
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[Page]
}

func NewBreakerRegistry(settings BreakerSettings) *BreakerRegistry {
	return &BreakerRegistry{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker[Page]),
	}
}

func (r *BreakerRegistry) Get(tenantID string) *gobreaker.CircuitBreaker[Page] {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, exists := r.breakers[tenantID]
	if !exists {
		cb = r.newBreaker("remote:" + tenantID)
		r.breakers[tenantID] = cb
	}
	return cb
}

func (r *BreakerRegistry) newBreaker(name string) *gobreaker.CircuitBreaker[Page] {
	logger := common.GetLoggerWith(common.LoggerNameGateway, zap.String("breaker", name))
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	minRequests := r.settings.MinRequests
	failureRatio := r.settings.FailureRatio

	return gobreaker.NewCircuitBreaker[Page](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state transition",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		// a caller giving up is not a sign the remote is unhealthy
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
