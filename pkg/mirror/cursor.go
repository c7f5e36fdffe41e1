package mirror

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

func (m *Mirror) getCursor(ctx context.Context, tenantID string) (models.SyncCursor, error) {
	var cursor models.SyncCursor
	err := m.Db.Conn.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Limit(1).
		Find(&cursor).Error
	if err != nil {
		return models.SyncCursor{}, err
	}
	cursor.TenantID = tenantID
	return cursor, nil
}

// advanceCursor records a successful run that started at `at`. The cursor row
// is created on first use and a timestamp never moves backwards.
func (m *Mirror) advanceCursor(ctx context.Context, tenantID string, mode models.SyncMode, at time.Time) error {
	logger := common.GetTenantLogger(common.LoggerCategoryCursor, tenantID)
	at = at.UTC()

	var column string
	switch mode {
	case models.SyncModeFull:
		column = "last_full_sync_at"
	case models.SyncModeIncremental:
		column = "last_incremental_sync_at"
	default:
		return fmt.Errorf("unknown sync mode %q", mode)
	}

	return m.Db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cursor := models.SyncCursor{TenantID: tenantID}
		if err := tx.Where(models.SyncCursor{TenantID: tenantID}).FirstOrCreate(&cursor).Error; err != nil {
			return err
		}

		current := cursor.LastFullSyncAt
		if mode == models.SyncModeIncremental {
			current = cursor.LastIncrementalSyncAt
		}
		if current != nil && !at.After(*current) {
			logger.Info("Cursor not moved backwards",
				zap.String("mode", string(mode)),
				zap.Time("current", *current),
				zap.Time("requested", at))
			return nil
		}

		if err := tx.Model(&cursor).Update(column, at).Error; err != nil {
			return err
		}
		logger.Info("Cursor advanced", zap.String("mode", string(mode)), zap.Time("at", at))
		return nil
	})
}

// watermark is the lower bound for the next change-based fetch: the last
// recorded run start minus the configured overlap.
func (m *Mirror) watermark(ctx context.Context, tenantID string, mode models.SyncMode) (time.Time, bool, error) {
	cursor, err := m.getCursor(ctx, tenantID)
	if err != nil {
		return time.Time{}, false, err
	}
	last := cursor.LastIncrementalSyncAt
	if mode == models.SyncModeFull {
		last = cursor.LastFullSyncAt
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return last.UTC().Add(-m.Settings.IncrementalOverlap), true, nil
}

type ICursorImpl struct {
	mirror *Mirror
}

func (ic *ICursorImpl) Get(ctx context.Context, tenantID string) (models.SyncCursor, error) {
	return ic.mirror.getCursor(ctx, tenantID)
}

func (ic *ICursorImpl) Advance(ctx context.Context, tenantID string, mode models.SyncMode, at time.Time) error {
	return ic.mirror.advanceCursor(ctx, tenantID, mode, at)
}

func (ic *ICursorImpl) Watermark(ctx context.Context, tenantID string, mode models.SyncMode) (time.Time, bool, error) {
	return ic.mirror.watermark(ctx, tenantID, mode)
}

func (m *Mirror) GetICursor() ICursor {
	return &ICursorImpl{mirror: m}
}
