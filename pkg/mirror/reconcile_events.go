package mirror

import (
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

func eventKind(r gateway.Record) (models.EventKind, error) {
	switch r.String("value") {
	case "1":
		return models.EventKindProblem, nil
	case "0":
		return models.EventKindResolution, nil
	default:
		return "", fmt.Errorf("%w: event value %q", ErrInvalidRecord, r.String("value"))
	}
}

// resolutionRef is the explicit recovery event id, if the remote knows it.
func resolutionRef(r gateway.Record) string {
	ref := r.String("r_eventid")
	if ref == "0" {
		return ""
	}
	return ref
}

func firstOf(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func sameRef(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// reconcileEvents upserts events. Parent references are filled from the local
// index when the parent is already mirrored and left null otherwise. A known
// reference is kept only while the event still points at the same external
// parent. Pairing columns are owned by the pairing pass.
func (m *Mirror) reconcileEvents(tx *gorm.DB, tenantID string, records []gateway.Record) (models.ReconcileCounts, error) {
	var counts models.ReconcileCounts
	kind := gateway.KindEvent

	ids, err := externalIDs(kind, tenantID, records)
	if err != nil {
		return counts, err
	}
	triggerIndex, err := m.Index.Lookup(tx, tenantID, gateway.KindTrigger)
	if err != nil {
		return counts, err
	}
	hostIndex, err := m.Index.Lookup(tx, tenantID, gateway.KindHost)
	if err != nil {
		return counts, err
	}

	var existing []models.Event
	if err := tx.Where("tenant_id = ? AND external_id IN ?", tenantID, ids).Find(&existing).Error; err != nil {
		return counts, err
	}
	byExternal := make(map[string]*models.Event, len(existing))
	for i := range existing {
		byExternal[existing[i].ExternalID] = &existing[i]
	}

	for _, r := range records {
		externalID := r.ExternalID(kind)
		evKind, err := eventKind(r)
		if err != nil {
			return counts, recordError(kind, tenantID, externalID, err)
		}
		occurredAt := r.Time("clock")
		if occurredAt == nil {
			return counts, recordError(kind, tenantID, externalID,
				fmt.Errorf("%w: event clock %q", ErrInvalidRecord, r.String("clock")))
		}
		payload, err := r.Payload()
		if err != nil {
			return counts, recordError(kind, tenantID, externalID, err)
		}

		desired := models.Event{
			TenantID:             tenantID,
			ExternalID:           externalID,
			TriggerExternalID:    r.String("objectid"),
			HostExternalID:       firstOf(r.NestedIDs("hosts", "hostid")),
			Kind:                 evKind,
			Name:                 r.String("name"),
			Severity:             r.Int("severity"),
			Acknowledged:         r.Flag("acknowledged"),
			OccurredAt:           *occurredAt,
			ResolutionExternalID: resolutionRef(r),
			RawPayload:           datatypes.JSON(payload),
		}
		if id, ok := triggerIndex[desired.TriggerExternalID]; ok && desired.TriggerExternalID != "" {
			desired.TriggerID = &id
		}
		if id, ok := hostIndex[desired.HostExternalID]; ok && desired.HostExternalID != "" {
			desired.HostID = &id
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

		if desired.TriggerID == nil && current.TriggerExternalID == desired.TriggerExternalID {
			desired.TriggerID = current.TriggerID
		}
		if desired.HostExternalID == "" {
			desired.HostExternalID = current.HostExternalID
		}
		if desired.HostID == nil && current.HostExternalID == desired.HostExternalID {
			desired.HostID = current.HostID
		}
		if desired.ResolutionExternalID == "" {
			desired.ResolutionExternalID = current.ResolutionExternalID
		}

		if current.TriggerExternalID == desired.TriggerExternalID &&
			current.HostExternalID == desired.HostExternalID &&
			sameRef(current.TriggerID, desired.TriggerID) &&
			sameRef(current.HostID, desired.HostID) &&
			current.Kind == desired.Kind &&
			current.Name == desired.Name &&
			current.Severity == desired.Severity &&
			current.Acknowledged == desired.Acknowledged &&
			current.OccurredAt.Equal(desired.OccurredAt) &&
			current.ResolutionExternalID == desired.ResolutionExternalID &&
			samePayload(current.RawPayload, desired.RawPayload) {
			counts.Unchanged++
			continue
		}

		err = tx.Model(current).Omit(clause.Associations).Updates(map[string]any{
			"trigger_id":             desired.TriggerID,
			"host_id":                desired.HostID,
			"trigger_external_id":    desired.TriggerExternalID,
			"host_external_id":       desired.HostExternalID,
			"kind":                   desired.Kind,
			"name":                   desired.Name,
			"severity":               desired.Severity,
			"acknowledged":           desired.Acknowledged,
			"occurred_at":            desired.OccurredAt,
			"resolution_external_id": desired.ResolutionExternalID,
			"raw_payload":            desired.RawPayload,
		}).Error
		if err != nil {
			return counts, recordError(kind, tenantID, externalID, err)
		}
		counts.Updated++
	}
	return counts, nil
}
