package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/metrics"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

// Notifier is told about every finished run.
type Notifier interface {
	PublishRun(ctx context.Context, result RunResult) error
}

type TenantLister interface {
	Tenants(ctx context.Context) ([]string, error)
}

// RunResult is the structured outcome of one tenant run. Callers never need
// to inspect logs to know what happened.
type RunResult struct {
	RunID         string                  `json:"run_id"`
	TenantID      string                  `json:"tenant_id"`
	Mode          models.SyncMode         `json:"mode"`
	StartedAt     time.Time               `json:"started_at"`
	Elapsed       time.Duration           `json:"-"`
	ElapsedMillis int64                   `json:"elapsed_ms"`
	State         RunState                `json:"state"`
	FailedStage   Stage                   `json:"failed_stage,omitempty"`
	Stages        []StageSummary          `json:"stages"`
	Alarms        *models.ReconcileCounts `json:"alarms,omitempty"`
	Pairing       *models.PairingReport   `json:"pairing,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Err           error                   `json:"-"`
}

// Terminal renders the run's end state, e.g. "Done" or "Failed(items)".
func (r RunResult) Terminal() string {
	switch r.State {
	case RunStateDone:
		return "Done"
	case RunStateRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("Failed(%s)", r.FailedStage)
	}
}

// Supervisor starts tenant runs. One tenant's failure never stops another
// tenant's run.
type Supervisor struct {
	Mirror            *Mirror
	Lease             RunLease
	Tenants           TenantLister
	Notifier          Notifier
	TenantConcurrency int
}

func (s *Supervisor) RunFull(ctx context.Context, tenantID string) RunResult {
	return s.run(ctx, tenantID, models.SyncModeFull)
}

// RunIncremental syncs changes since the watermark, then refreshes active
// alarms and pairs events.
func (s *Supervisor) RunIncremental(ctx context.Context, tenantID string) RunResult {
	return s.run(ctx, tenantID, models.SyncModeIncremental)
}

func (s *Supervisor) Run(ctx context.Context, tenantID string, mode models.SyncMode) RunResult {
	return s.run(ctx, tenantID, mode)
}

// RunAll runs every enabled tenant, TenantConcurrency at a time. Results keep
// the tenant order of the lister.
func (s *Supervisor) RunAll(ctx context.Context, mode models.SyncMode) ([]RunResult, error) {
	logger := common.GetLoggerWith(common.LoggerNameMirrorCore,
		zap.String(common.LoggerFieldMirrorCategory, common.LoggerCategorySupervisor))

	tenants, err := s.Tenants.Tenants(ctx)
	if err != nil {
		logger.Error("Failed to list tenants", zap.Error(err))
		return nil, err
	}

	results := make([]RunResult, len(tenants))
	var g errgroup.Group
	g.SetLimit(max(s.TenantConcurrency, 1))
	for i, tenantID := range tenants {
		g.Go(func() error {
			results[i] = s.run(ctx, tenantID, mode)
			return nil
		})
	}
	_ = g.Wait()

	failed := len(common.Filter(results, func(r RunResult) bool { return r.State != RunStateDone }))
	logger.Info("Tenant runs finished",
		zap.String("mode", string(mode)),
		zap.Int("tenants", len(tenants)),
		zap.Int("not_done", failed))
	return results, nil
}

func (s *Supervisor) run(ctx context.Context, tenantID string, mode models.SyncMode) (result RunResult) {
	m := s.Mirror
	began := time.Now()
	result = RunResult{
		RunID:     uuid.NewString(),
		TenantID:  tenantID,
		Mode:      mode,
		StartedAt: m.Settings.now(),
	}
	logger := common.GetTenantLogger(common.LoggerCategorySupervisor, tenantID,
		zap.String(common.LoggerFieldRunID, result.RunID),
		zap.String("mode", string(mode)))

	stage := StageLease
	defer func() {
		if r := recover(); r != nil {
			result.State = RunStateFailed
			result.FailedStage = stage
			result.Err = fmt.Errorf("panic in stage %s: %v", stage, r)
		}
		s.finish(ctx, logger, &result, began)
	}()

	logger.Info("Run started")

	release, err := s.Lease.Acquire(ctx, tenantID, mode)
	if err != nil {
		result.Err = err
		result.FailedStage = StageLease
		result.State = RunStateFailed
		if errors.Is(err, ErrRunInProgress) {
			result.State = RunStateRejected
		}
		return result
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release lease", zap.Error(err))
		}
	}()

	stage = StageHosts
	pipelineResult, err := m.NewPipeline().Run(ctx, tenantID, mode, result.StartedAt)
	result.Stages = pipelineResult.Stages
	if err != nil {
		result.State = RunStateFailed
		result.FailedStage = pipelineResult.FailedStage
		result.Err = err
		return result
	}

	if mode == models.SyncModeIncremental {
		stage = StageAlarms
		alarms, err := m.Alarms.SyncActive(ctx, tenantID, pipelineResult.EventWindow)
		if err != nil {
			result.State = RunStateFailed
			result.FailedStage = StageAlarms
			result.Err = err
			return result
		}
		result.Alarms = &alarms

		stage = StagePairing
		window := models.TimeWindow{From: result.StartedAt.Add(-m.Settings.EventLookback), To: result.StartedAt}
		report, err := m.Pairing.Pair(ctx, tenantID, window)
		if err != nil {
			result.State = RunStateFailed
			result.FailedStage = StagePairing
			result.Err = err
			return result
		}
		result.Pairing = &report
	}

	result.State = RunStateDone
	return result
}

func (s *Supervisor) finish(ctx context.Context, logger *zap.Logger, result *RunResult, began time.Time) {
	result.Elapsed = time.Since(began)
	result.ElapsedMillis = result.Elapsed.Milliseconds()
	if result.Err != nil {
		result.Error = result.Err.Error()
	}

	metrics.SyncRunsTotal.WithLabelValues(string(result.Mode), string(result.State)).Inc()
	metrics.SyncRunDuration.WithLabelValues(string(result.Mode)).Observe(result.Elapsed.Seconds())

	fields := []zap.Field{
		zap.String("state", result.Terminal()),
		zap.Duration("elapsed", result.Elapsed),
	}
	switch result.State {
	case RunStateDone:
		logger.Info("Run finished", fields...)
	case RunStateRejected:
		logger.Warn("Run rejected", append(fields, zap.Error(result.Err))...)
	default:
		logger.Error("Run failed", append(fields, zap.Error(result.Err))...)
	}

	if s.Notifier != nil {
		if err := s.Notifier.PublishRun(context.WithoutCancel(ctx), *result); err != nil {
			logger.Warn("Failed to publish run result", zap.Error(err))
		}
	}
}
