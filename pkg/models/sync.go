package models

import (
	"fmt"
	"time"
)

type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// ReconcileCounts is what one reconcile call did to the local store.
type ReconcileCounts struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

func (c ReconcileCounts) Add(other ReconcileCounts) ReconcileCounts {
	return ReconcileCounts{
		Created:   c.Created + other.Created,
		Updated:   c.Updated + other.Updated,
		Unchanged: c.Unchanged + other.Unchanged,
		Skipped:   c.Skipped + other.Skipped,
	}
}

func (c ReconcileCounts) Total() int {
	return c.Created + c.Updated + c.Unchanged + c.Skipped
}

type AnomalyKind string

const (
	AnomalyUnmatchedResolution AnomalyKind = "unmatched_resolution"
	AnomalySupersededProblem   AnomalyKind = "superseded_problem"
	AnomalyOutOfOrder          AnomalyKind = "out_of_order"
	AnomalyDanglingLink        AnomalyKind = "dangling_link"
)

// PairingAnomaly is a non-fatal irregularity found while pairing events.
type PairingAnomaly struct {
	Kind            AnomalyKind `json:"kind"`
	TenantID        string      `json:"tenant_id"`
	EventExternalID string      `json:"event_external_id"`
	CorrelationKey  string      `json:"correlation_key"`
	Detail          string      `json:"detail"`
}

func (a PairingAnomaly) Error() string {
	return fmt.Sprintf("pairing anomaly %s: tenant %s event %s key %s: %s",
		a.Kind, a.TenantID, a.EventExternalID, a.CorrelationKey, a.Detail)
}

type PairingReport struct {
	TenantID      string           `json:"tenant_id"`
	Window        TimeWindow       `json:"window"`
	Examined      int              `json:"examined"`
	Paired        int              `json:"paired"`
	Open          int              `json:"open"`
	OpenEventIDs  []string         `json:"open_event_ids,omitempty"`
	Anomalies     []PairingAnomaly `json:"anomalies,omitempty"`
	AlarmsTouched int              `json:"alarms_touched"`
}
