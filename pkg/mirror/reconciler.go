package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

// reconcile applies one batch of remote records in a single transaction.
// Any error rolls the whole batch back; batches committed earlier are kept.
func (m *Mirror) reconcile(ctx context.Context, tenantID string, kind gateway.Kind, records []gateway.Record) (models.ReconcileCounts, error) {
	logger := common.GetTenantLogger(common.LoggerCategoryReconciler, tenantID,
		zap.String(common.LoggerFieldKind, string(kind)))

	if len(records) == 0 {
		return models.ReconcileCounts{}, nil
	}

	var counts models.ReconcileCounts
	err := m.Db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		switch kind {
		case gateway.KindHost:
			counts, err = m.reconcileHosts(tx, tenantID, records)
		case gateway.KindItem:
			counts, err = m.reconcileItems(tx, tenantID, records)
		case gateway.KindTrigger:
			counts, err = m.reconcileTriggers(tx, tenantID, records)
		case gateway.KindEvent:
			counts, err = m.reconcileEvents(tx, tenantID, records)
		case gateway.KindHistory:
			counts, err = m.reconcileHistory(tx, tenantID, records)
		case gateway.KindAlert:
			counts, err = m.reconcileAlerts(tx, tenantID, records)
		default:
			err = ErrUnsupportedKind
		}
		return err
	})
	if err != nil {
		var recErr *ReconciliationError
		if !errors.As(err, &recErr) {
			err = &ReconciliationError{Kind: kind, TenantID: tenantID, Err: err}
		}
		logger.Error("Batch rolled back", zap.Int("records", len(records)), zap.Error(err))
		return models.ReconcileCounts{}, err
	}

	if counts.Created > 0 {
		m.Index.Invalidate(tenantID, kind)
		if kind == gateway.KindHost {
			m.Index.Invalidate(tenantID, gateway.KindHostGroup)
		}
	}

	logger.Info("Batch reconciled",
		zap.Int("records", len(records)),
		zap.Int("created", counts.Created),
		zap.Int("updated", counts.Updated),
		zap.Int("unchanged", counts.Unchanged),
		zap.Int("skipped", counts.Skipped))
	return counts, nil
}

func recordError(kind gateway.Kind, tenantID, externalID string, err error) error {
	return &ReconciliationError{Kind: kind, TenantID: tenantID, ExternalID: externalID, Err: err}
}

func externalIDs(kind gateway.Kind, tenantID string, records []gateway.Record) ([]string, error) {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		id := r.ExternalID(kind)
		if id == "" {
			return nil, recordError(kind, tenantID, "", ErrMissingExternalID)
		}
		ids = append(ids, id)
	}
	return common.Dedupe(ids), nil
}

// samePayload compares a stored JSON document with a freshly encoded one
// regardless of how the database normalized the stored copy.
func samePayload(stored datatypes.JSON, fresh []byte) bool {
	if bytes.Equal(stored, fresh) {
		return true
	}
	var decoded any
	if err := json.Unmarshal(stored, &decoded); err != nil {
		return false
	}
	normalized, err := json.Marshal(decoded)
	if err != nil {
		return false
	}
	return bytes.Equal(normalized, fresh)
}

func hostStatus(r gateway.Record) (models.HostStatus, error) {
	switch r.String("status") {
	case "0":
		return models.HostStatusActive, nil
	case "1":
		return models.HostStatusDisabled, nil
	default:
		return "", fmt.Errorf("%w: host status %q", ErrInvalidRecord, r.String("status"))
	}
}

func valueKind(r gateway.Record) models.ValueKind {
	switch r.String("value_type") {
	case "0":
		return models.ValueKindNumeric
	case "2":
		return models.ValueKindLog
	case "3":
		return models.ValueKindUnsigned
	default:
		return models.ValueKindText
	}
}

// upsertHostGroups makes sure every referenced group exists and returns them
// keyed by external id.
func upsertHostGroups(tx *gorm.DB, tenantID string, names map[string]string) (map[string]models.HostGroup, error) {
	groups := make(map[string]models.HostGroup, len(names))
	if len(names) == 0 {
		return groups, nil
	}

	rows := make([]models.HostGroup, 0, len(names))
	for externalID, name := range names {
		rows = append(rows, models.HostGroup{TenantID: tenantID, ExternalID: externalID, Name: name})
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&rows).Error
	if err != nil {
		return nil, err
	}

	var stored []models.HostGroup
	externalIDs := make([]string, 0, len(names))
	for externalID := range names {
		externalIDs = append(externalIDs, externalID)
	}
	if err := tx.Where("tenant_id = ? AND external_id IN ?", tenantID, externalIDs).Find(&stored).Error; err != nil {
		return nil, err
	}
	for _, g := range stored {
		groups[g.ExternalID] = g
	}
	return groups, nil
}

func (m *Mirror) reconcileHosts(tx *gorm.DB, tenantID string, records []gateway.Record) (models.ReconcileCounts, error) {
	var counts models.ReconcileCounts
	kind := gateway.KindHost

	ids, err := externalIDs(kind, tenantID, records)
	if err != nil {
		return counts, err
	}

	groupNames := map[string]string{}
	for _, r := range records {
		for _, g := range r.Objects("hostgroups") {
			if id := g.String("groupid"); id != "" {
				groupNames[id] = g.String("name")
			}
		}
	}
	groups, err := upsertHostGroups(tx, tenantID, groupNames)
	if err != nil {
		return counts, recordError(kind, tenantID, "", err)
	}

	var existing []models.Host
	if err := tx.Preload("Groups").Where("tenant_id = ? AND external_id IN ?", tenantID, ids).Find(&existing).Error; err != nil {
		return counts, err
	}
	byExternal := make(map[string]*models.Host, len(existing))
	for i := range existing {
		byExternal[existing[i].ExternalID] = &existing[i]
	}

	for _, r := range records {
		externalID := r.ExternalID(kind)
		status, err := hostStatus(r)
		if err != nil {
			return counts, recordError(kind, tenantID, externalID, err)
		}
		payload, err := r.Payload()
		if err != nil {
			return counts, recordError(kind, tenantID, externalID, err)
		}

		desired := models.Host{
			TenantID:        tenantID,
			ExternalID:      externalID,
			DisplayName:     r.String("name"),
			TechnicalName:   r.String("host"),
			Status:          status,
			LastSeenPayload: datatypes.JSON(payload),
		}
		desiredGroups := make([]models.HostGroup, 0)
		for _, groupID := range common.Dedupe(r.NestedIDs("hostgroups", "groupid")) {
			if g, ok := groups[groupID]; ok {
				desiredGroups = append(desiredGroups, g)
			}
		}

		changed := false
		current, found := byExternal[externalID]
		if !found {
			if err := tx.Omit(clause.Associations).Create(&desired).Error; err != nil {
				return counts, recordError(kind, tenantID, externalID, err)
			}
			current = &desired
			byExternal[externalID] = current
		} else if current.DisplayName != desired.DisplayName ||
			current.TechnicalName != desired.TechnicalName ||
			current.Status != desired.Status ||
			!samePayload(current.LastSeenPayload, desired.LastSeenPayload) {
			err := tx.Model(current).Omit(clause.Associations).Updates(map[string]any{
				"display_name":      desired.DisplayName,
				"technical_name":    desired.TechnicalName,
				"status":            desired.Status,
				"last_seen_payload": desired.LastSeenPayload,
			}).Error
			if err != nil {
				return counts, recordError(kind, tenantID, externalID, err)
			}
			changed = true
		}

		currentIDs := common.Mapper(current.Groups, func(g models.HostGroup) uint { return g.ID })
		desiredIDs := common.Mapper(desiredGroups, func(g models.HostGroup) uint { return g.ID })
		if !common.SameSet(currentIDs, desiredIDs) {
			if err := tx.Model(current).Omit("Groups.*").Association("Groups").Replace(desiredGroups); err != nil {
				return counts, recordError(kind, tenantID, externalID, err)
			}
			current.Groups = desiredGroups
			changed = true
		}

		switch {
		case !found:
			counts.Created++
		case changed:
			counts.Updated++
		default:
			counts.Unchanged++
		}
	}
	return counts, nil
}

func (m *Mirror) reconcileItems(tx *gorm.DB, tenantID string, records []gateway.Record) (models.ReconcileCounts, error) {
	var counts models.ReconcileCounts
	kind := gateway.KindItem
	logger := common.GetTenantLogger(common.LoggerCategoryReconciler, tenantID,
		zap.String(common.LoggerFieldKind, string(kind)))

	ids, err := externalIDs(kind, tenantID, records)
	if err != nil {
		return counts, err
	}
	hostIndex, err := m.Index.Lookup(tx, tenantID, gateway.KindHost)
	if err != nil {
		return counts, err
	}

	var existing []models.MonitoredItem
	if err := tx.Where("tenant_id = ? AND external_id IN ?", tenantID, ids).Find(&existing).Error; err != nil {
		return counts, err
	}
	byExternal := make(map[string]*models.MonitoredItem, len(existing))
	for i := range existing {
		byExternal[existing[i].ExternalID] = &existing[i]
	}

	for _, r := range records {
		externalID := r.ExternalID(kind)
		hostID, ok := hostIndex[r.String("hostid")]
		if !ok {
			logger.Warn("Item skipped, host not mirrored",
				zap.String("item", externalID),
				zap.String("host", r.String("hostid")))
			counts.Skipped++
			continue
		}
		payload, err := r.Payload()
		if err != nil {
			return counts, recordError(kind, tenantID, externalID, err)
		}

		desired := models.MonitoredItem{
			TenantID:       tenantID,
			ExternalID:     externalID,
			HostID:         hostID,
			Name:           r.String("name"),
			Key:            r.String("key_"),
			ValueKind:      valueKind(r),
			Units:          r.String("units"),
			Enabled:        r.String("status") == "0",
			LastValue:      r.String("lastvalue"),
			LastObservedAt: r.Time("lastclock"),
			RawPayload:     datatypes.JSON(payload),
		}

		current, found := byExternal[externalID]
		if !found {
			if err := tx.Omit(clause.Associations).Create(&desired).Error; err != nil {
				return counts, recordError(kind, tenantID, externalID, err)
			}
			byExternal[externalID] = &desired
			counts.Created++
			continue
		}

		if current.HostID == desired.HostID &&
			current.Name == desired.Name &&
			current.Key == desired.Key &&
			current.ValueKind == desired.ValueKind &&
			current.Units == desired.Units &&
			current.Enabled == desired.Enabled &&
			current.LastValue == desired.LastValue &&
			sameTime(current.LastObservedAt, desired.LastObservedAt) &&
			samePayload(current.RawPayload, desired.RawPayload) {
			counts.Unchanged++
			continue
		}

		err = tx.Model(current).Omit(clause.Associations).Updates(map[string]any{
			"host_id":          desired.HostID,
			"name":             desired.Name,
			"key":              desired.Key,
			"value_kind":       desired.ValueKind,
			"units":            desired.Units,
			"enabled":          desired.Enabled,
			"last_value":       desired.LastValue,
			"last_observed_at": desired.LastObservedAt,
			"raw_payload":      desired.RawPayload,
		}).Error
		if err != nil {
			return counts, recordError(kind, tenantID, externalID, err)
		}
		counts.Updated++
	}
	return counts, nil
}

func (m *Mirror) reconcileTriggers(tx *gorm.DB, tenantID string, records []gateway.Record) (models.ReconcileCounts, error) {
	var counts models.ReconcileCounts
	kind := gateway.KindTrigger
	logger := common.GetTenantLogger(common.LoggerCategoryReconciler, tenantID,
		zap.String(common.LoggerFieldKind, string(kind)))

	ids, err := externalIDs(kind, tenantID, records)
	if err != nil {
		return counts, err
	}
	itemIndex, err := m.Index.Lookup(tx, tenantID, gateway.KindItem)
	if err != nil {
		return counts, err
	}

	var existing []models.Trigger
	if err := tx.Preload("Items").Where("tenant_id = ? AND external_id IN ?", tenantID, ids).Find(&existing).Error; err != nil {
		return counts, err
	}
	byExternal := make(map[string]*models.Trigger, len(existing))
	for i := range existing {
		byExternal[existing[i].ExternalID] = &existing[i]
	}

	for _, r := range records {
		externalID := r.ExternalID(kind)
		payload, err := r.Payload()
		if err != nil {
			return counts, recordError(kind, tenantID, externalID, err)
		}
		desired := models.Trigger{
			TenantID:      tenantID,
			ExternalID:    externalID,
			Description:   r.String("description"),
			Expression:    r.String("expression"),
			Severity:      r.Int("priority"),
			Enabled:       r.String("status") == "0",
			Value:         r.Int("value"),
			LastChangedAt: r.Time("lastchange"),
			RawPayload:    datatypes.JSON(payload),
		}

		desiredItemIDs := make([]uint, 0)
		for _, itemRef := range common.Dedupe(r.NestedIDs("items", "itemid")) {
			itemID, ok := itemIndex[itemRef]
			if !ok {
				logger.Debug("Trigger references an item that is not mirrored",
					zap.String("trigger", externalID),
					zap.String("item", itemRef))
				continue
			}
			desiredItemIDs = append(desiredItemIDs, itemID)
		}

		changed := false
		current, found := byExternal[externalID]
		if !found {
			if err := tx.Omit(clause.Associations).Create(&desired).Error; err != nil {
				return counts, recordError(kind, tenantID, externalID, err)
			}
			current = &desired
			byExternal[externalID] = current
		} else if current.Description != desired.Description ||
			current.Expression != desired.Expression ||
			current.Severity != desired.Severity ||
			current.Enabled != desired.Enabled ||
			current.Value != desired.Value ||
			!sameTime(current.LastChangedAt, desired.LastChangedAt) ||
			!samePayload(current.RawPayload, desired.RawPayload) {
			err := tx.Model(current).Omit(clause.Associations).Updates(map[string]any{
				"description":     desired.Description,
				"expression":      desired.Expression,
				"severity":        desired.Severity,
				"enabled":         desired.Enabled,
				"value":           desired.Value,
				"last_changed_at": desired.LastChangedAt,
				"raw_payload":     desired.RawPayload,
			}).Error
			if err != nil {
				return counts, recordError(kind, tenantID, externalID, err)
			}
			changed = true
		}

		currentItemIDs := common.Mapper(current.Items, func(i models.MonitoredItem) uint { return i.ID })
		if !common.SameSet(currentItemIDs, desiredItemIDs) {
			items := make([]models.MonitoredItem, 0, len(desiredItemIDs))
			if len(desiredItemIDs) > 0 {
				if err := tx.Where("id IN ?", desiredItemIDs).Find(&items).Error; err != nil {
					return counts, recordError(kind, tenantID, externalID, err)
				}
			}
			if err := tx.Model(current).Omit("Items.*").Association("Items").Replace(items); err != nil {
				return counts, recordError(kind, tenantID, externalID, err)
			}
			current.Items = items
			changed = true
		}

		switch {
		case !found:
			counts.Created++
		case changed:
			counts.Updated++
		default:
			counts.Unchanged++
		}
	}
	return counts, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

type IReconcilerImpl struct {
	mirror *Mirror
}

func (ir *IReconcilerImpl) Reconcile(ctx context.Context, tenantID string, kind gateway.Kind, records []gateway.Record) (models.ReconcileCounts, error) {
	return ir.mirror.reconcile(ctx, tenantID, kind, records)
}

func (m *Mirror) GetIReconciler() IReconciler {
	return &IReconcilerImpl{mirror: m}
}
