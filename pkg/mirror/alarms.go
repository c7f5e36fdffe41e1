package mirror

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

type alarmHost struct {
	TriggerExternalID string
	HostExternalID    string
	HostName          string
}

// syncActiveAlarms pulls the remote's current problems raised inside window
// and overwrites the matching ActiveAlarm rows.
func (m *Mirror) syncActiveAlarms(ctx context.Context, tenantID string, window models.TimeWindow) (models.ReconcileCounts, error) {
	logger := common.GetTenantLogger(common.LoggerCategoryAlarms, tenantID)

	var counts models.ReconcileCounts
	params := gateway.Params{ChangedSince: window.From, Until: window.To}
	for batch, err := range m.Chunker.FetchAll(ctx, tenantID, gateway.KindProblem, params) {
		if err != nil {
			logger.Error("Active alarm fetch failed", zap.Error(err))
			return counts, err
		}
		batchCounts, err := m.upsertAlarms(ctx, tenantID, batch)
		if err != nil {
			logger.Error("Active alarm upsert failed", zap.Error(err))
			return counts, err
		}
		counts = counts.Add(batchCounts)
	}

	logger.Info("Active alarms synced",
		zap.Int("created", counts.Created),
		zap.Int("updated", counts.Updated),
		zap.Int("skipped", counts.Skipped))
	return counts, nil
}

func (m *Mirror) upsertAlarms(ctx context.Context, tenantID string, records []gateway.Record) (models.ReconcileCounts, error) {
	var counts models.ReconcileCounts
	if len(records) == 0 {
		return counts, nil
	}
	syncedAt := m.Settings.now()

	err := m.Db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		triggerRefs := make([]string, 0, len(records))
		ids := make([]string, 0, len(records))
		for _, r := range records {
			triggerRefs = append(triggerRefs, r.String("objectid"))
			ids = append(ids, r.ExternalID(gateway.KindProblem))
		}

		hosts, err := hostsForTriggers(tx, tenantID, common.Dedupe(triggerRefs))
		if err != nil {
			return err
		}

		var known []string
		if err := tx.Model(&models.ActiveAlarm{}).
			Where("tenant_id = ? AND external_id IN ?", tenantID, ids).
			Pluck("external_id", &known).Error; err != nil {
			return err
		}
		existing := make(map[string]bool, len(known))
		for _, id := range known {
			existing[id] = true
		}

		rows := make([]models.ActiveAlarm, 0, len(records))
		seen := make(map[string]bool, len(records))
		for _, r := range records {
			externalID := r.ExternalID(gateway.KindProblem)
			raisedAt := r.Time("clock")
			if externalID == "" || raisedAt == nil || seen[externalID] {
				counts.Skipped++
				continue
			}
			seen[externalID] = true
			payload, err := r.Payload()
			if err != nil {
				return recordError(gateway.KindProblem, tenantID, externalID, err)
			}

			host := hosts[r.String("objectid")]
			rows = append(rows, models.ActiveAlarm{
				TenantID:          tenantID,
				ExternalID:        externalID,
				TriggerExternalID: r.String("objectid"),
				HostExternalID:    host.HostExternalID,
				HostName:          host.HostName,
				Name:              r.String("name"),
				Severity:          r.Int("severity"),
				Acknowledged:      r.Flag("acknowledged"),
				RaisedAt:          *raisedAt,
				SyncedAt:          syncedAt,
				RawPayload:        datatypes.JSON(payload),
			})
			if existing[externalID] {
				counts.Updated++
			} else {
				counts.Created++
			}
		}
		if len(rows) == 0 {
			return nil
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "external_id"}},
			UpdateAll: true,
		}).Create(&rows).Error
	})
	if err != nil {
		return models.ReconcileCounts{}, err
	}
	return counts, nil
}

// hostsForTriggers resolves each trigger to the host of its first watched item.
func hostsForTriggers(tx *gorm.DB, tenantID string, triggerRefs []string) (map[string]alarmHost, error) {
	hosts := make(map[string]alarmHost, len(triggerRefs))
	if len(triggerRefs) == 0 {
		return hosts, nil
	}

	var rows []alarmHost
	err := tx.Table("triggers AS t").
		Select("t.external_id AS trigger_external_id, h.external_id AS host_external_id, h.display_name AS host_name").
		Joins("JOIN trigger_items ti ON ti.trigger_id = t.id").
		Joins("JOIN monitored_items mi ON mi.id = ti.monitored_item_id").
		Joins("JOIN hosts h ON h.id = mi.host_id").
		Where("t.tenant_id = ? AND t.external_id IN ?", tenantID, triggerRefs).
		Order("mi.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if _, ok := hosts[row.TriggerExternalID]; !ok {
			hosts[row.TriggerExternalID] = row
		}
	}
	return hosts, nil
}

type IAlarmsImpl struct {
	mirror *Mirror
}

func (ia *IAlarmsImpl) SyncActive(ctx context.Context, tenantID string, window models.TimeWindow) (models.ReconcileCounts, error) {
	return ia.mirror.syncActiveAlarms(ctx, tenantID, window)
}

func (m *Mirror) GetIAlarms() IAlarms {
	return &IAlarmsImpl{mirror: m}
}
