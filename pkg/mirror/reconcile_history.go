package mirror

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

// historyValueTypes maps a mirrored value kind to the remote history tables
// holding its samples. Character and text items share ValueKindText.
var historyValueTypes = map[models.ValueKind][]int{
	models.ValueKindNumeric:  {0},
	models.ValueKindText:     {1, 4},
	models.ValueKindLog:      {2},
	models.ValueKindUnsigned: {3},
}

func sampleKey(itemExternalID string, clock time.Time, ns int) string {
	return fmt.Sprintf("%s/%d/%d", itemExternalID, clock.Unix(), ns)
}

// reconcileHistory upserts item samples. Samples of items that are not
// mirrored are skipped; a sample is rewritten only when its value changed.
func (m *Mirror) reconcileHistory(tx *gorm.DB, tenantID string, records []gateway.Record) (models.ReconcileCounts, error) {
	var counts models.ReconcileCounts
	kind := gateway.KindHistory
	logger := common.GetTenantLogger(common.LoggerCategoryReconciler, tenantID,
		zap.String(common.LoggerFieldKind, string(kind)))

	itemIndex, err := m.Index.Lookup(tx, tenantID, gateway.KindItem)
	if err != nil {
		return counts, err
	}

	desired := make(map[string]models.HistorySample, len(records))
	order := make([]string, 0, len(records))
	itemRefs := make([]string, 0, len(records))
	var from, to time.Time
	for _, r := range records {
		itemRef := r.ExternalID(kind)
		if itemRef == "" {
			return counts, recordError(kind, tenantID, "", ErrMissingExternalID)
		}
		clock := r.Time("clock")
		if clock == nil {
			return counts, recordError(kind, tenantID, itemRef,
				fmt.Errorf("%w: history clock %q", ErrInvalidRecord, r.String("clock")))
		}
		itemID, ok := itemIndex[itemRef]
		if !ok {
			logger.Warn("Sample skipped, item not mirrored", zap.String("item", itemRef))
			counts.Skipped++
			continue
		}

		sample := models.HistorySample{
			TenantID:       tenantID,
			ItemExternalID: itemRef,
			ItemID:         itemID,
			Clock:          *clock,
			Ns:             r.Int("ns"),
			Value:          r.String("value"),
		}
		key := sampleKey(itemRef, sample.Clock, sample.Ns)
		if _, seen := desired[key]; !seen {
			order = append(order, key)
		}
		desired[key] = sample
		itemRefs = append(itemRefs, itemRef)
		if from.IsZero() || sample.Clock.Before(from) {
			from = sample.Clock
		}
		if sample.Clock.After(to) {
			to = sample.Clock
		}
	}
	if len(order) == 0 {
		return counts, nil
	}

	var existing []models.HistorySample
	err = tx.Where("tenant_id = ? AND item_external_id IN ? AND clock BETWEEN ? AND ?",
		tenantID, common.Dedupe(itemRefs), from, to).Find(&existing).Error
	if err != nil {
		return counts, err
	}
	stored := make(map[string]models.HistorySample, len(existing))
	for _, s := range existing {
		stored[sampleKey(s.ItemExternalID, s.Clock, s.Ns)] = s
	}

	rows := make([]models.HistorySample, 0, len(order))
	for _, key := range order {
		sample := desired[key]
		current, found := stored[key]
		switch {
		case !found:
			counts.Created++
		case current.Value != sample.Value || current.ItemID != sample.ItemID:
			counts.Updated++
		default:
			counts.Unchanged++
			continue
		}
		rows = append(rows, sample)
	}
	if len(rows) == 0 {
		return counts, nil
	}

	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "item_external_id"}, {Name: "clock"}, {Name: "ns"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"item_id", "value"}),
	}).CreateInBatches(&rows, 100).Error
	if err != nil {
		return counts, recordError(kind, tenantID, "", err)
	}
	return counts, nil
}

// reconcileAlerts upserts notifications the remote sent. The event link is
// filled when the event is already mirrored.
func (m *Mirror) reconcileAlerts(tx *gorm.DB, tenantID string, records []gateway.Record) (models.ReconcileCounts, error) {
	var counts models.ReconcileCounts
	kind := gateway.KindAlert

	ids, err := externalIDs(kind, tenantID, records)
	if err != nil {
		return counts, err
	}

	eventRefs := common.Dedupe(common.Filter(
		common.Mapper(records, func(r gateway.Record) string { return r.String("eventid") }),
		func(id string) bool { return id != "" }))
	eventIDs := make(map[string]uint, len(eventRefs))
	if len(eventRefs) > 0 {
		var events []models.Event
		err := tx.Select("id", "external_id").
			Where("tenant_id = ? AND external_id IN ?", tenantID, eventRefs).
			Find(&events).Error
		if err != nil {
			return counts, err
		}
		for _, e := range events {
			eventIDs[e.ExternalID] = e.ID
		}
	}

	var existing []models.SentAlert
	if err := tx.Where("tenant_id = ? AND external_id IN ?", tenantID, ids).Find(&existing).Error; err != nil {
		return counts, err
	}
	byExternal := make(map[string]*models.SentAlert, len(existing))
	for i := range existing {
		byExternal[existing[i].ExternalID] = &existing[i]
	}

	for _, r := range records {
		externalID := r.ExternalID(kind)
		sentAt := r.Time("clock")
		if sentAt == nil {
			return counts, recordError(kind, tenantID, externalID,
				fmt.Errorf("%w: alert clock %q", ErrInvalidRecord, r.String("clock")))
		}
		payload, err := r.Payload()
		if err != nil {
			return counts, recordError(kind, tenantID, externalID, err)
		}

		desired := models.SentAlert{
			TenantID:        tenantID,
			ExternalID:      externalID,
			EventExternalID: r.String("eventid"),
			SendTo:          r.String("sendto"),
			Subject:         r.String("subject"),
			Message:         r.String("message"),
			Status:          r.Int("status"),
			SentAt:          *sentAt,
			RawPayload:      datatypes.JSON(payload),
		}
		if id, ok := eventIDs[desired.EventExternalID]; ok {
			desired.EventID = &id
		}

		current, found := byExternal[externalID]
		if !found {
			if err := tx.Create(&desired).Error; err != nil {
				return counts, recordError(kind, tenantID, externalID, err)
			}
			byExternal[externalID] = &desired
			counts.Created++
			continue
		}
		if desired.EventID == nil && current.EventExternalID == desired.EventExternalID {
			desired.EventID = current.EventID
		}

		if current.EventExternalID == desired.EventExternalID &&
			sameRef(current.EventID, desired.EventID) &&
			current.SendTo == desired.SendTo &&
			current.Subject == desired.Subject &&
			current.Message == desired.Message &&
			current.Status == desired.Status &&
			current.SentAt.Equal(desired.SentAt) &&
			samePayload(current.RawPayload, desired.RawPayload) {
			counts.Unchanged++
			continue
		}

		err = tx.Model(current).Updates(map[string]any{
			"event_external_id": desired.EventExternalID,
			"event_id":          desired.EventID,
			"send_to":           desired.SendTo,
			"subject":           desired.Subject,
			"message":           desired.Message,
			"status":            desired.Status,
			"sent_at":           desired.SentAt,
			"raw_payload":       desired.RawPayload,
		}).Error
		if err != nil {
			return counts, recordError(kind, tenantID, externalID, err)
		}
		counts.Updated++
	}
	return counts, nil
}
