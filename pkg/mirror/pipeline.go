package mirror

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"go.uber.org/zap"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/metrics"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

type Stage string

const (
	StageLease    Stage = "lease"
	StageHosts    Stage = "hosts"
	StageItems    Stage = "items"
	StageTriggers Stage = "triggers"
	StageEvents   Stage = "events"
	StageHistory  Stage = "history"
	StageAlerts   Stage = "alerts"
	StageCursor   Stage = "cursor"
	StageAlarms   Stage = "alarms"
	StagePairing  Stage = "pairing"
)

// Stages is the fixed order a run walks; parents always precede children.
var Stages = []Stage{StageHosts, StageItems, StageTriggers, StageEvents, StageHistory, StageAlerts}

type RunState string

const (
	RunStateDone     RunState = "done"
	RunStateFailed   RunState = "failed"
	RunStateRejected RunState = "rejected"
)

type StageSummary struct {
	Stage    Stage                  `json:"stage"`
	Batches  int                    `json:"batches"`
	Fetched  int                    `json:"fetched"`
	Counts   models.ReconcileCounts `json:"counts"`
	Relinked int64                  `json:"relinked,omitempty"`
	Elapsed  time.Duration          `json:"elapsed"`
	Error    string                 `json:"error,omitempty"`
}

type PipelineResult struct {
	State       RunState
	FailedStage Stage
	Stages      []StageSummary
	EventWindow models.TimeWindow
}

// Pipeline runs the ordered stages for one tenant. It does not guard against
// concurrent runs; callers hold the tenant's lease.
type Pipeline struct {
	mirror *Mirror
}

func (m *Mirror) NewPipeline() *Pipeline {
	return &Pipeline{mirror: m}
}

// Run walks every stage in Stages. History and alerts read the event window
// decided by the events stage. The first failing stage ends
// the run as failed and the cursor is left untouched; batches committed before
// the failure stay in the store. The cursor advances to runStart only when
// every stage succeeded.
func (p *Pipeline) Run(ctx context.Context, tenantID string, mode models.SyncMode, runStart time.Time) (result PipelineResult, err error) {
	m := p.mirror
	logger := common.GetTenantLogger(common.LoggerCategoryPipeline, tenantID, zap.String("mode", string(mode)))
	runStart = runStart.UTC()

	stage := StageHosts
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in stage %s: %v", stage, r)
			result.State = RunStateFailed
			result.FailedStage = stage
			metrics.SyncStageFailures.WithLabelValues(string(stage)).Inc()
			logger.Error("Stage panicked", zap.String("stage", string(stage)), zap.Any("panic", r))
		}
	}()

	fail := func(summary StageSummary, cause error) (PipelineResult, error) {
		summary.Error = cause.Error()
		result.Stages = append(result.Stages, summary)
		result.State = RunStateFailed
		result.FailedStage = summary.Stage
		metrics.SyncStageFailures.WithLabelValues(string(summary.Stage)).Inc()
		logger.Error("Stage failed, run stopped", zap.String("stage", string(summary.Stage)), zap.Error(cause))
		return result, cause
	}

	m.Index.InvalidateTenant(tenantID)

	var inventorySince time.Time
	if mode == models.SyncModeIncremental {
		watermark, ok, err := m.Cursor.Watermark(ctx, tenantID, models.SyncModeIncremental)
		if err != nil {
			return fail(StageSummary{Stage: stage}, err)
		}
		if ok {
			inventorySince = watermark
		}
	}

	for _, stage = range Stages {
		var (
			seq  iter.Seq2[[]gateway.Record, error]
			kind gateway.Kind
			err  error
		)
		started := time.Now()

		switch stage {
		case StageHosts:
			kind = gateway.KindHost
			seq = m.Chunker.FetchAll(ctx, tenantID, kind, gateway.Params{ChangedSince: inventorySince})
		case StageItems, StageTriggers:
			kind = gateway.KindItem
			if stage == StageTriggers {
				kind = gateway.KindTrigger
			}
			hostIDs, err := p.localIDs(ctx, tenantID, gateway.KindHost)
			if err != nil {
				return fail(StageSummary{Stage: stage}, err)
			}
			seq = m.Chunker.FetchScoped(ctx, tenantID, kind, hostIDs, gateway.Params{ChangedSince: inventorySince})
		case StageEvents:
			kind = gateway.KindEvent
			window, err := p.eventWindow(ctx, tenantID, runStart)
			if err != nil {
				return fail(StageSummary{Stage: stage}, err)
			}
			result.EventWindow = window
			triggerIDs, err := p.localIDs(ctx, tenantID, gateway.KindTrigger)
			if err != nil {
				return fail(StageSummary{Stage: stage}, err)
			}
			seq = m.Chunker.FetchScoped(ctx, tenantID, kind, triggerIDs,
				gateway.Params{ChangedSince: window.From, Until: window.To})
		case StageHistory:
			kind = gateway.KindHistory
			seq, err = p.historySeq(ctx, tenantID, p.historyWindow(result.EventWindow, runStart))
			if err != nil {
				return fail(StageSummary{Stage: stage}, err)
			}
		case StageAlerts:
			kind = gateway.KindAlert
			eventIDs, err := p.windowEventIDs(ctx, tenantID, result.EventWindow)
			if err != nil {
				return fail(StageSummary{Stage: stage}, err)
			}
			seq = m.Chunker.FetchScoped(ctx, tenantID, kind, eventIDs,
				gateway.Params{ChangedSince: result.EventWindow.From, Until: result.EventWindow.To})
		}

		summary, err := p.runStage(ctx, tenantID, stage, kind, seq)
		summary.Elapsed = time.Since(started)
		metrics.SyncStageDuration.WithLabelValues(string(stage)).Observe(summary.Elapsed.Seconds())
		if summary.Fetched > 0 {
			m.Index.Invalidate(tenantID, kind)
			if kind == gateway.KindHost {
				m.Index.Invalidate(tenantID, gateway.KindHostGroup)
			}
		}
		if err != nil {
			return fail(summary, err)
		}

		if stage == StageTriggers || stage == StageEvents {
			relinked, err := m.Backfill.Relink(ctx, tenantID)
			if err != nil {
				logger.Warn("Relink failed, continuing", zap.String("stage", string(stage)), zap.Error(err))
			}
			summary.Relinked = relinked
		}

		result.Stages = append(result.Stages, summary)
		logger.Info("Stage finished",
			zap.String("stage", string(stage)),
			zap.Int("batches", summary.Batches),
			zap.Int("fetched", summary.Fetched),
			zap.Int("created", summary.Counts.Created),
			zap.Int("updated", summary.Counts.Updated),
			zap.Int("unchanged", summary.Counts.Unchanged),
			zap.Int("skipped", summary.Counts.Skipped),
			zap.Duration("elapsed", summary.Elapsed))
	}

	stage = StageCursor
	if err := m.Cursor.Advance(ctx, tenantID, mode, runStart); err != nil {
		return fail(StageSummary{Stage: StageCursor}, err)
	}

	result.State = RunStateDone
	return result, nil
}

func (p *Pipeline) runStage(ctx context.Context, tenantID string, stage Stage, kind gateway.Kind, seq iter.Seq2[[]gateway.Record, error]) (StageSummary, error) {
	summary := StageSummary{Stage: stage}
	for batch, err := range seq {
		if err != nil {
			return summary, err
		}
		summary.Batches++
		summary.Fetched += len(batch)

		counts, err := p.mirror.Reconciler.Reconcile(ctx, tenantID, kind, batch)
		if err != nil {
			return summary, err
		}
		summary.Counts = summary.Counts.Add(counts)
		metrics.RecordStageCounts(string(stage), counts.Created, counts.Updated, counts.Unchanged, counts.Skipped)
	}
	return summary, nil
}

// eventWindow starts at the incremental watermark, or at the lookback horizon
// when the tenant never completed an incremental run.
func (p *Pipeline) eventWindow(ctx context.Context, tenantID string, runStart time.Time) (models.TimeWindow, error) {
	m := p.mirror
	from, ok, err := m.Cursor.Watermark(ctx, tenantID, models.SyncModeIncremental)
	if err != nil {
		return models.TimeWindow{}, err
	}
	if !ok {
		from = runStart.Add(-m.Settings.EventLookback)
	}
	return models.TimeWindow{From: from, To: runStart}, nil
}

// localIDs lists the external ids of a kind already mirrored for the tenant,
// sorted so batches are stable between runs.
func (p *Pipeline) localIDs(ctx context.Context, tenantID string, kind gateway.Kind) ([]string, error) {
	index, err := p.mirror.Index.Lookup(p.mirror.Db.Conn.WithContext(ctx), tenantID, kind)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// historyWindow is the event window, clamped to HistoryLookback.
func (p *Pipeline) historyWindow(events models.TimeWindow, runStart time.Time) models.TimeWindow {
	window := events
	if lookback := p.mirror.Settings.HistoryLookback; lookback > 0 {
		if horizon := runStart.Add(-lookback); window.From.Before(horizon) {
			window.From = horizon
		}
	}
	return window
}

// historySeq fetches samples of enabled items, one scoped fetch per remote
// history table.
func (p *Pipeline) historySeq(ctx context.Context, tenantID string, window models.TimeWindow) (iter.Seq2[[]gateway.Record, error], error) {
	var items []models.MonitoredItem
	err := p.mirror.Db.Conn.WithContext(ctx).
		Select("external_id", "value_kind").
		Where("tenant_id = ? AND enabled = ?", tenantID, true).
		Order("external_id").
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	byKind := map[models.ValueKind][]string{}
	for _, item := range items {
		byKind[item.ValueKind] = append(byKind[item.ValueKind], item.ExternalID)
	}

	kinds := []models.ValueKind{models.ValueKindNumeric, models.ValueKindText, models.ValueKindLog, models.ValueKindUnsigned}
	var seqs []iter.Seq2[[]gateway.Record, error]
	for _, valueKind := range kinds {
		ids := byKind[valueKind]
		if len(ids) == 0 {
			continue
		}
		for _, valueType := range historyValueTypes[valueKind] {
			seqs = append(seqs, p.mirror.Chunker.FetchScoped(ctx, tenantID, gateway.KindHistory, ids,
				gateway.Params{ChangedSince: window.From, Until: window.To, ValueType: valueType}))
		}
	}
	return concatBatches(seqs...), nil
}

// windowEventIDs lists the events that occurred inside window.
func (p *Pipeline) windowEventIDs(ctx context.Context, tenantID string, window models.TimeWindow) ([]string, error) {
	var ids []string
	err := p.mirror.Db.Conn.WithContext(ctx).Model(&models.Event{}).
		Where("tenant_id = ? AND occurred_at >= ? AND occurred_at <= ?", tenantID, window.From, window.To).
		Order("external_id").
		Pluck("external_id", &ids).Error
	return ids, err
}

func concatBatches(seqs ...iter.Seq2[[]gateway.Record, error]) iter.Seq2[[]gateway.Record, error] {
	return func(yield func([]gateway.Record, error) bool) {
		for _, seq := range seqs {
			for batch, err := range seq {
				if !yield(batch, err) {
					return
				}
				if err != nil {
					return
				}
			}
		}
	}
}
