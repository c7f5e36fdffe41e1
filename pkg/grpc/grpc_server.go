package grpc

import (
	"golang.org/x/time/rate"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror"
)

type MirrorServer struct {
	Mirror           *mirror.Mirror
	Supervisor       *mirror.Supervisor
	RateLimiterStore *mirror.RateLimiterStore
}

var _ SyncServiceServer = (*MirrorServer)(nil)

func (s *MirrorServer) GetLimiter(tenantID string) *rate.Limiter {
	if s.RateLimiterStore == nil {
		return nil
	} else {
		return s.RateLimiterStore.GetLimiter(tenantID)
	}
}

func (s *MirrorServer) CheckTenantLimiter(tenantID string) bool {
	return s.RateLimiterStore.Allow(tenantID)
}
