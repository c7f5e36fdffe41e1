package scheduler

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

// Runner runs one sync mode across every enabled tenant.
type Runner interface {
	RunAll(ctx context.Context, mode models.SyncMode) ([]mirror.RunResult, error)
}

var _ Runner = (*mirror.Supervisor)(nil)

// SyncService triggers RunAll for one mode on a fixed interval.
type SyncService struct {
	runner     Runner
	mode       models.SyncMode
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger

	// rounds is signalled after each finished round, tests only.
	rounds chan int
}

func NewSyncService(runner Runner, mode models.SyncMode, interval time.Duration, runOnStart bool) *SyncService {
	return &SyncService{
		runner:     runner,
		mode:       mode,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     common.GetLoggerWith(common.LoggerNameScheduler, zap.String("mode", string(mode))),
	}
}

func (s *SyncService) String() string {
	return "sync-" + string(s.mode)
}

func (s *SyncService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("Scheduled sync disabled")
		return suture.ErrDoNotRestart
	}

	if s.runOnStart {
		s.round(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.round(ctx)
		}
	}
}

func (s *SyncService) round(ctx context.Context) {
	began := time.Now()
	results, err := s.runner.RunAll(ctx, s.mode)
	if err != nil {
		s.logger.Error("Scheduled sync round failed", zap.Error(err))
		s.signal(0)
		return
	}

	states := map[mirror.RunState]int{}
	for _, r := range results {
		states[r.State]++
	}
	s.logger.Info("Scheduled sync round finished",
		zap.Int("tenants", len(results)),
		zap.Int("done", states[mirror.RunStateDone]),
		zap.Int("failed", states[mirror.RunStateFailed]),
		zap.Int("rejected", states[mirror.RunStateRejected]),
		zap.Duration("elapsed", time.Since(began)))
	s.signal(len(results))
}

func (s *SyncService) signal(n int) {
	if s.rounds == nil {
		return
	}
	select {
	case s.rounds <- n:
	default:
	}
}
