package mirror

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/metrics"
)

const (
	relinkEventTriggers = `
UPDATE events SET trigger_id = (
	SELECT t.id FROM triggers t
	WHERE t.tenant_id = events.tenant_id AND t.external_id = events.trigger_external_id
)
WHERE events.tenant_id = ? AND events.trigger_id IS NULL AND events.trigger_external_id <> ''
AND EXISTS (
	SELECT 1 FROM triggers t
	WHERE t.tenant_id = events.tenant_id AND t.external_id = events.trigger_external_id
)`

	relinkEventHosts = `
UPDATE events SET host_id = (
	SELECT h.id FROM hosts h
	WHERE h.tenant_id = events.tenant_id AND h.external_id = events.host_external_id
)
WHERE events.tenant_id = ? AND events.host_id IS NULL AND events.host_external_id <> ''
AND EXISTS (
	SELECT 1 FROM hosts h
	WHERE h.tenant_id = events.tenant_id AND h.external_id = events.host_external_id
)`

	// events that carried no host reference inherit the host of the first
	// item their trigger watches
	relinkEventHostsViaTrigger = `
UPDATE events SET host_id = (
	SELECT mi.host_id FROM trigger_items ti
	JOIN monitored_items mi ON mi.id = ti.monitored_item_id
	WHERE ti.trigger_id = events.trigger_id
	ORDER BY mi.id LIMIT 1
)
WHERE events.tenant_id = ? AND events.host_id IS NULL AND events.trigger_id IS NOT NULL
AND EXISTS (
	SELECT 1 FROM trigger_items ti WHERE ti.trigger_id = events.trigger_id
)`
)

// relink resolves event parent references that were left null because the
// parent was not mirrored yet. It only ever fills nulls.
func (m *Mirror) relink(ctx context.Context, tenantID string) (int64, error) {
	logger := common.GetTenantLogger(common.LoggerCategoryBackfill, tenantID)

	steps := []struct {
		reference string
		sql       string
	}{
		{"trigger", relinkEventTriggers},
		{"host", relinkEventHosts},
		{"host_via_trigger", relinkEventHostsViaTrigger},
	}

	var total int64
	err := m.Db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total = 0
		for _, step := range steps {
			result := tx.Exec(step.sql, tenantID)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				metrics.BackfillRelinkedTotal.WithLabelValues(step.reference).Add(float64(result.RowsAffected))
				logger.Info("Relinked orphaned events",
					zap.String("reference", step.reference),
					zap.Int64("events", result.RowsAffected))
			}
			total += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		logger.Error("Relink failed", zap.Error(err))
		return 0, err
	}
	return total, nil
}

type IBackfillImpl struct {
	mirror *Mirror
}

func (ib *IBackfillImpl) Relink(ctx context.Context, tenantID string) (int64, error) {
	return ib.mirror.relink(ctx, tenantID)
}

func (m *Mirror) GetIBackfill() IBackfill {
	return &IBackfillImpl{mirror: m}
}
