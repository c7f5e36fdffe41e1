package models

import (
	"time"

	"gorm.io/datatypes"
)

type HostStatus string

const (
	HostStatusActive   HostStatus = "active"
	HostStatusDisabled HostStatus = "disabled"
)

type ValueKind string

const (
	ValueKindNumeric  ValueKind = "numeric"
	ValueKindText     ValueKind = "text"
	ValueKindLog      ValueKind = "log"
	ValueKindUnsigned ValueKind = "unsigned"
)

type EventKind string

const (
	EventKindProblem    EventKind = "problem"
	EventKindResolution EventKind = "resolution"
)

// TenantConnection holds how to reach one tenant's monitoring platform.
type TenantConnection struct {
	TenantID  string `gorm:"primaryKey;size:64"`
	BaseURL   string `gorm:"not null"`
	Username  string
	Password  string `json:"-"`
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type HostGroup struct {
	ID         uint   `gorm:"primaryKey"`
	TenantID   string `gorm:"size:64;not null;uniqueIndex:idx_host_groups_tenant_external"`
	ExternalID string `gorm:"size:64;not null;uniqueIndex:idx_host_groups_tenant_external"`
	Name       string
}

type Host struct {
	ID              uint   `gorm:"primaryKey"`
	TenantID        string `gorm:"size:64;not null;uniqueIndex:idx_hosts_tenant_external"`
	ExternalID      string `gorm:"size:64;not null;uniqueIndex:idx_hosts_tenant_external"`
	DisplayName     string
	TechnicalName   string
	Status          HostStatus `gorm:"type:varchar(10);check:status IN ('active','disabled')"`
	LastSeenPayload datatypes.JSON
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Groups []HostGroup `gorm:"many2many:host_group_links"`
}

type MonitoredItem struct {
	ID             uint   `gorm:"primaryKey"`
	TenantID       string `gorm:"size:64;not null;uniqueIndex:idx_items_tenant_external"`
	ExternalID     string `gorm:"size:64;not null;uniqueIndex:idx_items_tenant_external"`
	HostID         uint   `gorm:"not null;index"`
	Name           string
	Key            string
	ValueKind      ValueKind `gorm:"type:varchar(10);check:value_kind IN ('numeric','text','log','unsigned')"`
	Units          string
	Enabled        bool
	LastValue      string
	LastObservedAt *time.Time
	RawPayload     datatypes.JSON
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Host *Host `gorm:"foreignKey:HostID"`
}

type Trigger struct {
	ID            uint   `gorm:"primaryKey"`
	TenantID      string `gorm:"size:64;not null;uniqueIndex:idx_triggers_tenant_external"`
	ExternalID    string `gorm:"size:64;not null;uniqueIndex:idx_triggers_tenant_external"`
	Description   string
	Expression    string
	Severity      int
	Enabled       bool
	Value         int
	LastChangedAt *time.Time
	RawPayload    datatypes.JSON
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Items []MonitoredItem `gorm:"many2many:trigger_items"`
}

// Event is a raised or resolved record. Parent references are nullable because
// events may be mirrored before their trigger or host; TriggerExternalID and
// HostExternalID keep enough to relink them later. A problem raised again
// before it was resolved is closed unpaired by setting SupersededByEventID.
type Event struct {
	ID                   uint      `gorm:"primaryKey"`
	TenantID             string    `gorm:"size:64;not null;uniqueIndex:idx_events_tenant_external;index:idx_events_tenant_occurred"`
	ExternalID           string    `gorm:"size:64;not null;uniqueIndex:idx_events_tenant_external"`
	TriggerID            *uint     `gorm:"index"`
	HostID               *uint     `gorm:"index"`
	TriggerExternalID    string    `gorm:"size:64;index"`
	HostExternalID       string    `gorm:"size:64"`
	Kind                 EventKind `gorm:"type:varchar(10);check:kind IN ('problem','resolution')"`
	Name                 string
	Severity             int
	Acknowledged         bool
	OccurredAt           time.Time `gorm:"not null;index:idx_events_tenant_occurred"`
	ResolutionExternalID string    `gorm:"size:64"`
	ResolutionEventID    *uint     `gorm:"index"`
	DurationSeconds      *int64
	SupersededByEventID  *uint `gorm:"index"`
	RawPayload           datatypes.JSON
	CreatedAt            time.Time
	UpdatedAt            time.Time

	Trigger         *Trigger `gorm:"foreignKey:TriggerID"`
	Host            *Host    `gorm:"foreignKey:HostID"`
	ResolutionEvent *Event   `gorm:"foreignKey:ResolutionEventID"`
}

// ActiveAlarm is the projection of currently unresolved problems. Rows are
// overwritten by alarm sync and never deleted by it.
type ActiveAlarm struct {
	ID                uint   `gorm:"primaryKey"`
	TenantID          string `gorm:"size:64;not null;uniqueIndex:idx_active_alarms_tenant_external"`
	ExternalID        string `gorm:"size:64;not null;uniqueIndex:idx_active_alarms_tenant_external"`
	TriggerExternalID string `gorm:"size:64"`
	HostExternalID    string `gorm:"size:64"`
	HostName          string
	Name              string
	Severity          int
	Acknowledged      bool
	RaisedAt          time.Time
	SyncedAt          time.Time
	RawPayload        datatypes.JSON
}

// HistorySample is one collected value of an item. Samples have no remote id;
// item, clock and nanoseconds identify them.
type HistorySample struct {
	ID             uint      `gorm:"primaryKey"`
	TenantID       string    `gorm:"size:64;not null;uniqueIndex:idx_history_tenant_sample"`
	ItemExternalID string    `gorm:"size:64;not null;uniqueIndex:idx_history_tenant_sample"`
	ItemID         uint      `gorm:"not null;index"`
	Clock          time.Time `gorm:"not null;uniqueIndex:idx_history_tenant_sample"`
	Ns             int       `gorm:"not null;uniqueIndex:idx_history_tenant_sample"`
	Value          string
	CreatedAt      time.Time
}

// SentAlert is a notification the remote sent for an event. EventID stays
// nil until the event is mirrored.
type SentAlert struct {
	ID              uint   `gorm:"primaryKey"`
	TenantID        string `gorm:"size:64;not null;uniqueIndex:idx_sent_alerts_tenant_external"`
	ExternalID      string `gorm:"size:64;not null;uniqueIndex:idx_sent_alerts_tenant_external"`
	EventExternalID string `gorm:"size:64;index"`
	EventID         *uint  `gorm:"index"`
	SendTo          string
	Subject         string
	Message         string
	Status          int
	SentAt          time.Time
	RawPayload      datatypes.JSON
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type SyncCursor struct {
	TenantID              string `gorm:"primaryKey;size:64"`
	LastFullSyncAt        *time.Time
	LastIncrementalSyncAt *time.Time
	UpdatedAt             time.Time
}

// All lists every entity for migrations, parents before children.
func All() []any {
	return []any{
		&TenantConnection{},
		&HostGroup{},
		&Host{},
		&MonitoredItem{},
		&Trigger{},
		&Event{},
		&ActiveAlarm{},
		&HistorySample{},
		&SentAlert{},
		&SyncCursor{},
	}
}
