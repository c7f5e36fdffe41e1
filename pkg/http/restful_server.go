package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror"
)

type RestfulServer struct {
	Server           *gin.Engine
	Mirror           *mirror.Mirror
	Supervisor       *mirror.Supervisor
	Connections      *gateway.DBConnectionSource
	RateLimiterStore *mirror.RateLimiterStore
}

func (rs *RestfulServer) GetLimiter(tenantID string) *rate.Limiter {
	if rs.RateLimiterStore == nil {
		return nil
	} else {
		return rs.RateLimiterStore.GetLimiter(tenantID)
	}
}

func (rs *RestfulServer) CheckTenantLimiter(tenantID string) bool {
	return rs.RateLimiterStore.Allow(tenantID)
}

func (rs *RestfulServer) SetLimiter(tenantID string, tenantRate float64, tenantBurst int) {
	if rs.RateLimiterStore == nil {
		return
	}
	rs.RateLimiterStore.SetLimiter(tenantID, rate.Limit(tenantRate), tenantBurst)
}

func (rs *RestfulServer) ResetLimiter(tenantID string) {
	rs.RateLimiterStore.Reset(tenantID)
}

func (rs *RestfulServer) Setup() {
	rs.Server.GET("/healthz", rs.HealthCheck)
	rs.Server.GET("/metrics", gin.WrapH(promhttp.Handler()))

	tenants := rs.Server.Group("/tenants/:tenant_id")
	{
		tenants.GET("/cursor", rs.GetCursor)
		tenants.POST("/sync/full", rs.PostFullSync)
		tenants.POST("/sync/incremental", rs.PostIncrementalSync)
		tenants.GET("/alarms/active", rs.GetActiveAlarms)
		tenants.GET("/events", rs.GetEvents)
		tenants.GET("/mttr", rs.GetMTTR)
		tenants.PUT("/connection", rs.PutConnection)
		tenants.POST("/limiter", rs.PostLimiter)
		tenants.DELETE("/limiter", rs.DeleteLimiter)
	}
}
