package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zhttp"

	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

var tenantIDSchema = z.String().Trim().Min(1).Max(64).Required()

// tenantParam validates the :tenant_id path segment and writes a 400 when it
// is unusable.
func tenantParam(c *gin.Context) (string, bool) {
	var tenantID string
	if errs := tenantIDSchema.Parse(c.Param("tenant_id"), &tenantID); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs})
		return "", false
	}
	return tenantID, true
}

// guardTenant combines path validation with the tenant's ops limiter.
func (rs *RestfulServer) guardTenant(c *gin.Context) (string, bool) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return "", false
	}
	if !rs.CheckTenantLimiter(tenantID) {
		c.Status(http.StatusTooManyRequests)
		return "", false
	}
	return tenantID, true
}

type CursorResponse struct {
	TenantID              string     `json:"tenant_id"`
	LastFullSyncAt        *time.Time `json:"last_full_sync_at"`
	LastIncrementalSyncAt *time.Time `json:"last_incremental_sync_at"`
}

func (rs *RestfulServer) GetCursor(c *gin.Context) {
	tenantID, ok := rs.guardTenant(c)
	if !ok {
		return
	}

	cursor, err := rs.Mirror.Cursor.Get(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, CursorResponse{
		TenantID:              tenantID,
		LastFullSyncAt:        cursor.LastFullSyncAt,
		LastIncrementalSyncAt: cursor.LastIncrementalSyncAt,
	})
}

// runStatus maps a run's terminal state onto the response code.
func runStatus(result mirror.RunResult) int {
	switch result.State {
	case mirror.RunStateDone:
		return http.StatusOK
	case mirror.RunStateRejected:
		return http.StatusConflict
	}

	var remoteErr *gateway.RemoteFetchError
	if errors.As(result.Err, &remoteErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (rs *RestfulServer) triggerRun(c *gin.Context, mode models.SyncMode) {
	tenantID, ok := rs.guardTenant(c)
	if !ok {
		return
	}

	// a client that hangs up must not cut a run short and leave the cursor behind
	result := rs.Supervisor.Run(context.WithoutCancel(c.Request.Context()), tenantID, mode)

	common.GetLoggerWith(common.LoggerNameRestfulServer).Info("Run triggered over http",
		zap.String(common.LoggerFieldTenant, tenantID),
		zap.String(common.LoggerFieldRunID, result.RunID),
		zap.String("mode", string(mode)),
		zap.String("state", result.Terminal()))

	c.JSON(runStatus(result), result)
}

func (rs *RestfulServer) PostFullSync(c *gin.Context) {
	rs.triggerRun(c, models.SyncModeFull)
}

func (rs *RestfulServer) PostIncrementalSync(c *gin.Context) {
	rs.triggerRun(c, models.SyncModeIncremental)
}

func (rs *RestfulServer) GetActiveAlarms(c *gin.Context) {
	tenantID, ok := rs.guardTenant(c)
	if !ok {
		return
	}

	alarms, err := rs.Mirror.Pairing.ActiveView(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, alarms)
}

type WindowRequest struct {
	From time.Time `json:"from" zog:"from"`
	To   time.Time `json:"to" zog:"to"`
}

var windowRequestSchema = z.Struct(z.Shape{
	"From": z.Time(),
	"To":   z.Time(),
})

// parseWindow reads ?from=&to= (RFC3339). Missing bounds default to the
// event lookback ending now.
func (rs *RestfulServer) parseWindow(c *gin.Context) (models.TimeWindow, bool) {
	var req WindowRequest
	if errs := windowRequestSchema.Parse(zhttp.Request(c.Request), &req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs})
		return models.TimeWindow{}, false
	}

	window := models.TimeWindow{From: req.From.UTC(), To: req.To.UTC()}
	if req.To.IsZero() {
		window.To = time.Now().UTC()
	}
	if req.From.IsZero() {
		window.From = window.To.Add(-rs.Mirror.Settings.EventLookback)
	}
	if !window.From.Before(window.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return models.TimeWindow{}, false
	}
	return window, true
}

func (rs *RestfulServer) GetEvents(c *gin.Context) {
	tenantID, ok := rs.guardTenant(c)
	if !ok {
		return
	}
	window, ok := rs.parseWindow(c)
	if !ok {
		return
	}

	events, err := rs.Mirror.Pairing.HistoricalView(c.Request.Context(), tenantID, window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, events)
}

type MTTRResponse struct {
	TenantID    string    `json:"tenant_id"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	MTTRMinutes *float64  `json:"mttr_minutes"`
	Samples     int64     `json:"samples"`
}

func (rs *RestfulServer) GetMTTR(c *gin.Context) {
	tenantID, ok := rs.guardTenant(c)
	if !ok {
		return
	}
	window, ok := rs.parseWindow(c)
	if !ok {
		return
	}

	minutes, samples, err := rs.Mirror.Pairing.MTTR(c.Request.Context(), tenantID, window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := MTTRResponse{TenantID: tenantID, From: window.From, To: window.To, Samples: samples}
	if samples > 0 {
		resp.MTTRMinutes = &minutes
	}
	c.JSON(http.StatusOK, resp)
}

type ConnectionRequest struct {
	BaseURL  string `json:"base_url" zog:"base_url"`
	Username string `json:"username" zog:"username"`
	Password string `json:"password" zog:"password"`
	Enabled  bool   `json:"enabled" zog:"enabled"`
}

var connectionRequestSchema = z.Struct(z.Shape{
	"BaseURL":  z.String().Trim().URL().Required(),
	"Username": z.String().Trim().Required(),
	"Password": z.String().Required(),
	"Enabled":  z.Bool(),
})

func (rs *RestfulServer) PutConnection(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	if rs.Connections == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "connections are not stored in the database"})
		return
	}

	var req ConnectionRequest
	if errs := connectionRequestSchema.Parse(zhttp.Request(c.Request), &req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs})
		return
	}

	if err := rs.Connections.Save(c.Request.Context(), models.TenantConnection{
		TenantID: tenantID,
		BaseURL:  req.BaseURL,
		Username: req.Username,
		Password: req.Password,
		Enabled:  req.Enabled,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusOK)
}

type LimiterRequest struct {
	Rate  float64 `json:"rate" zog:"rate"`
	Burst int     `json:"burst" zog:"burst"`
}

var limiterRequestSchema = z.Struct(z.Shape{
	"Rate":  z.Float64().Required(),
	"Burst": z.Int().Required(),
})

func (rs *RestfulServer) PostLimiter(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	var req LimiterRequest
	if errs := limiterRequestSchema.Parse(zhttp.Request(c.Request), &req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs})
		return
	}

	rs.SetLimiter(tenantID, req.Rate, req.Burst)

	c.Status(http.StatusOK)
}

// DeleteLimiter puts the tenant back on the default ops limits.
func (rs *RestfulServer) DeleteLimiter(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	rs.ResetLimiter(tenantID)

	c.Status(http.StatusNoContent)
}

func (rs *RestfulServer) HealthCheck(c *gin.Context) {
	if err := rs.Mirror.Db.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
