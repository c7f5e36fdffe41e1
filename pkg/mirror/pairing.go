package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/metrics"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

// correlationKey groups a problem with the resolutions that may close it.
func correlationKey(e *models.Event) string {
	if e.TriggerExternalID != "" {
		return "trigger:" + e.TriggerExternalID
	}
	return "host:" + e.HostExternalID + "|" + e.Name
}

type pairingPass struct {
	tx       *gorm.DB
	tenantID string
	logger   *zap.Logger
	report   *models.PairingReport
	consumed map[uint]bool
}

func (p *pairingPass) anomaly(kind models.AnomalyKind, e *models.Event, detail string) {
	a := models.PairingAnomaly{
		Kind:            kind,
		TenantID:        p.tenantID,
		EventExternalID: e.ExternalID,
		CorrelationKey:  correlationKey(e),
		Detail:          detail,
	}
	p.report.Anomalies = append(p.report.Anomalies, a)
	metrics.PairingAnomaliesTotal.WithLabelValues(string(kind)).Inc()
	p.logger.Warn("Pairing anomaly", zap.Error(a))
}

func (p *pairingPass) link(problem, resolution *models.Event) error {
	duration := int64(resolution.OccurredAt.Sub(problem.OccurredAt) / time.Second)
	err := p.tx.Model(&models.Event{}).
		Where("id = ?", problem.ID).
		Updates(map[string]any{
			"resolution_event_id": resolution.ID,
			"duration_seconds":    duration,
		}).Error
	if err != nil {
		return err
	}
	resolutionID := resolution.ID
	problem.ResolutionEventID = &resolutionID
	problem.DurationSeconds = &duration
	p.consumed[resolution.ID] = true
	p.report.Paired++
	metrics.PairedIncidentsTotal.Inc()
	return nil
}

// supersede closes previous without a resolution because next was raised on
// the same correlation key first.
func (p *pairingPass) supersede(previous, next *models.Event) error {
	err := p.tx.Model(&models.Event{}).
		Where("id = ?", previous.ID).
		Update("superseded_by_event_id", next.ID).Error
	if err != nil {
		return err
	}
	nextID := next.ID
	previous.SupersededByEventID = &nextID
	p.anomaly(models.AnomalySupersededProblem, previous,
		fmt.Sprintf("problem %s raised again before resolution", next.ExternalID))
	return nil
}

// pair links problems in window to their resolutions and records durations.
// Explicit resolution references are honored first; the rest are paired in
// occurrence order per correlation key, each resolution closing the most
// recent pending problem. A pending problem raised again before any
// resolution is closed unpaired and no longer counts as open. Already paired
// or superseded events are left alone, so running it again over the same
// window changes nothing.
func (m *Mirror) pair(ctx context.Context, tenantID string, window models.TimeWindow) (models.PairingReport, error) {
	logger := common.GetTenantLogger(common.LoggerCategoryPairing, tenantID)
	report := models.PairingReport{TenantID: tenantID, Window: window}

	err := m.Db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		report = models.PairingReport{TenantID: tenantID, Window: window}
		pass := &pairingPass{
			tx:       tx,
			tenantID: tenantID,
			logger:   logger,
			report:   &report,
			consumed: map[uint]bool{},
		}

		var events []models.Event
		if err := tx.Where("tenant_id = ? AND occurred_at BETWEEN ? AND ?", tenantID, window.From, window.To).
			Order("occurred_at ASC, id ASC").
			Find(&events).Error; err != nil {
			return err
		}
		report.Examined = len(events)

		byExternal := make(map[string]*models.Event, len(events))
		resolutionIDs := make([]uint, 0)
		for i := range events {
			e := &events[i]
			byExternal[e.ExternalID] = e
			if e.Kind == models.EventKindResolution {
				resolutionIDs = append(resolutionIDs, e.ID)
			}
		}
		if len(resolutionIDs) > 0 {
			var used []uint
			if err := tx.Model(&models.Event{}).
				Where("tenant_id = ? AND resolution_event_id IN ?", tenantID, resolutionIDs).
				Pluck("resolution_event_id", &used).Error; err != nil {
				return err
			}
			for _, id := range used {
				pass.consumed[id] = true
			}
		}

		for i := range events {
			problem := &events[i]
			if problem.Kind != models.EventKindProblem || problem.ResolutionEventID != nil || problem.ResolutionExternalID == "" {
				continue
			}
			resolution, ok := byExternal[problem.ResolutionExternalID]
			if !ok {
				var outside models.Event
				if err := tx.Where("tenant_id = ? AND external_id = ?", tenantID, problem.ResolutionExternalID).
					Limit(1).Find(&outside).Error; err != nil {
					return err
				}
				if outside.ID == 0 {
					pass.anomaly(models.AnomalyDanglingLink, problem,
						fmt.Sprintf("resolution %s is not mirrored", problem.ResolutionExternalID))
					continue
				}
				resolution = &outside
			}
			if resolution.Kind != models.EventKindResolution || pass.consumed[resolution.ID] {
				continue
			}
			if resolution.OccurredAt.Before(problem.OccurredAt) {
				pass.anomaly(models.AnomalyOutOfOrder, problem,
					fmt.Sprintf("resolution %s occurred before its problem", resolution.ExternalID))
				continue
			}
			if err := pass.link(problem, resolution); err != nil {
				return err
			}
		}

		pending := map[string]*models.Event{}
		for i := range events {
			e := &events[i]
			key := correlationKey(e)
			switch e.Kind {
			case models.EventKindProblem:
				if e.ResolutionEventID != nil || e.SupersededByEventID != nil {
					continue
				}
				if previous, ok := pending[key]; ok {
					if err := pass.supersede(previous, e); err != nil {
						return err
					}
				}
				pending[key] = e
			case models.EventKindResolution:
				if pass.consumed[e.ID] {
					continue
				}
				problem, ok := pending[key]
				if !ok {
					pass.anomaly(models.AnomalyUnmatchedResolution, e, "no pending problem")
					continue
				}
				if err := pass.link(problem, e); err != nil {
					return err
				}
				delete(pending, key)
			}
		}

		open := make([]*models.Event, 0, len(pending))
		for i := range events {
			e := &events[i]
			if e.Kind == models.EventKindProblem && e.ResolutionEventID == nil && e.SupersededByEventID == nil {
				open = append(open, e)
			}
		}
		report.Open = len(open)
		report.OpenEventIDs = common.Mapper(open, func(e *models.Event) string { return e.ExternalID })

		touched, err := projectOpenProblems(tx, tenantID, open, m.Settings.now())
		if err != nil {
			return err
		}
		report.AlarmsTouched = int(touched)
		return nil
	})
	if err != nil {
		logger.Error("Pairing failed", zap.Error(err))
		return models.PairingReport{TenantID: tenantID, Window: window}, err
	}

	logger.Info("Pairing finished",
		zap.Int("examined", report.Examined),
		zap.Int("paired", report.Paired),
		zap.Int("open", report.Open),
		zap.Int("anomalies", len(report.Anomalies)))
	return report, nil
}

// projectOpenProblems inserts an ActiveAlarm for open problems that have none.
// Rows written by alarm sync are kept as they are.
func projectOpenProblems(tx *gorm.DB, tenantID string, open []*models.Event, syncedAt time.Time) (int64, error) {
	if len(open) == 0 {
		return 0, nil
	}

	hosts, err := hostsForTriggers(tx, tenantID,
		common.Dedupe(common.Mapper(open, func(e *models.Event) string { return e.TriggerExternalID })))
	if err != nil {
		return 0, err
	}

	rows := make([]models.ActiveAlarm, 0, len(open))
	for _, e := range open {
		host := hosts[e.TriggerExternalID]
		if host.HostExternalID == "" {
			host.HostExternalID = e.HostExternalID
		}
		rows = append(rows, models.ActiveAlarm{
			TenantID:          tenantID,
			ExternalID:        e.ExternalID,
			TriggerExternalID: e.TriggerExternalID,
			HostExternalID:    host.HostExternalID,
			HostName:          host.HostName,
			Name:              e.Name,
			Severity:          e.Severity,
			Acknowledged:      e.Acknowledged,
			RaisedAt:          e.OccurredAt,
			SyncedAt:          syncedAt,
			RawPayload:        e.RawPayload,
		})
	}
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(&rows)
	return result.RowsAffected, result.Error
}

// activeView lists alarms whose problem is neither resolved nor superseded.
func (m *Mirror) activeView(ctx context.Context, tenantID string) ([]models.ActiveAlarm, error) {
	var alarms []models.ActiveAlarm
	err := m.Db.Conn.WithContext(ctx).
		Table("active_alarms AS a").
		Select("a.*").
		Joins("LEFT JOIN events e ON e.tenant_id = a.tenant_id AND e.external_id = a.external_id").
		Where("a.tenant_id = ? AND e.resolution_event_id IS NULL AND e.superseded_by_event_id IS NULL", tenantID).
		Order("a.raised_at DESC, a.id DESC").
		Find(&alarms).Error
	return alarms, err
}

func (m *Mirror) historicalView(ctx context.Context, tenantID string, window models.TimeWindow) ([]models.Event, error) {
	var problems []models.Event
	err := m.Db.Conn.WithContext(ctx).
		Preload("ResolutionEvent").
		Where("tenant_id = ? AND kind = ? AND occurred_at BETWEEN ? AND ?",
			tenantID, models.EventKindProblem, window.From, window.To).
		Order("occurred_at ASC, id ASC").
		Find(&problems).Error
	return problems, err
}

// mttr is the mean time to resolve, in minutes rounded to two decimals, over
// paired problems raised inside window, plus the number of samples.
func (m *Mirror) mttr(ctx context.Context, tenantID string, window models.TimeWindow) (float64, int64, error) {
	var avg sql.NullFloat64
	var samples int64
	row := m.Db.Conn.WithContext(ctx).
		Model(&models.Event{}).
		Select("AVG(duration_seconds), COUNT(*)").
		Where("tenant_id = ? AND kind = ? AND duration_seconds IS NOT NULL AND occurred_at BETWEEN ? AND ?",
			tenantID, models.EventKindProblem, window.From, window.To).
		Row()
	if err := row.Scan(&avg, &samples); err != nil {
		return 0, 0, err
	}
	if !avg.Valid || samples == 0 {
		return 0, 0, nil
	}
	return math.Round(avg.Float64/60*100) / 100, samples, nil
}

type IPairingImpl struct {
	mirror *Mirror
}

func (ip *IPairingImpl) Pair(ctx context.Context, tenantID string, window models.TimeWindow) (models.PairingReport, error) {
	return ip.mirror.pair(ctx, tenantID, window)
}

func (ip *IPairingImpl) ActiveView(ctx context.Context, tenantID string) ([]models.ActiveAlarm, error) {
	return ip.mirror.activeView(ctx, tenantID)
}

func (ip *IPairingImpl) HistoricalView(ctx context.Context, tenantID string, window models.TimeWindow) ([]models.Event, error) {
	return ip.mirror.historicalView(ctx, tenantID, window)
}

func (ip *IPairingImpl) MTTR(ctx context.Context, tenantID string, window models.TimeWindow) (float64, int64, error) {
	return ip.mirror.mttr(ctx, tenantID, window)
}

func (m *Mirror) GetIPairing() IPairing {
	return &IPairingImpl{mirror: m}
}
