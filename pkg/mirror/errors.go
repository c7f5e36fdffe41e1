package mirror

import (
	"errors"
	"fmt"
	"time"

	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

var (
	ErrMissingExternalID = errors.New("record has no external id")
	ErrInvalidRecord     = errors.New("record has an invalid field")
	ErrUnsupportedKind   = errors.New("kind cannot be reconciled")
	ErrRunInProgress     = errors.New("run in progress")
)

// ReconciliationError aborts one batch; the batch transaction is rolled back
// and earlier batches stay committed.
type ReconciliationError struct {
	Kind       gateway.Kind
	TenantID   string
	ExternalID string
	Err        error
}

func (e *ReconciliationError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("reconcile %s %s for tenant %s: %v", e.Kind, e.ExternalID, e.TenantID, e.Err)
	}
	return fmt.Sprintf("reconcile %s for tenant %s: %v", e.Kind, e.TenantID, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// PairingAnomaly is reported, never raised.
type PairingAnomaly = models.PairingAnomaly

type LeaseInfo struct {
	TenantID string          `json:"tenant_id"`
	Holder   string          `json:"holder"`
	Mode     models.SyncMode `json:"mode"`
	Since    time.Time       `json:"since"`
}

type LeaseHeldError struct {
	Info LeaseInfo
}

func (e *LeaseHeldError) Error() string {
	return fmt.Sprintf("tenant %s %s run in progress since %s",
		e.Info.TenantID, e.Info.Mode, e.Info.Since.Format(time.RFC3339))
}

func (e *LeaseHeldError) Unwrap() error {
	return ErrRunInProgress
}
