package mirror

import (
	"context"
	"iter"
	"time"

	"liyu1981.xyz/monitoring-mirror-service/pkg/db"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

// IChunker turns one logical fetch into a lazy sequence of record batches.
type IChunker interface {
	FetchAll(ctx context.Context, tenantID string, kind gateway.Kind, params gateway.Params) iter.Seq2[[]gateway.Record, error]
	FetchScoped(ctx context.Context, tenantID string, kind gateway.Kind, ids []string, params gateway.Params) iter.Seq2[[]gateway.Record, error]
}

type ICursor interface {
	Get(ctx context.Context, tenantID string) (models.SyncCursor, error)
	Advance(ctx context.Context, tenantID string, mode models.SyncMode, at time.Time) error
	Watermark(ctx context.Context, tenantID string, mode models.SyncMode) (time.Time, bool, error)
}

type IReconciler interface {
	Reconcile(ctx context.Context, tenantID string, kind gateway.Kind, records []gateway.Record) (models.ReconcileCounts, error)
}

type IBackfill interface {
	Relink(ctx context.Context, tenantID string) (int64, error)
}

type IAlarms interface {
	SyncActive(ctx context.Context, tenantID string, window models.TimeWindow) (models.ReconcileCounts, error)
}

type IPairing interface {
	Pair(ctx context.Context, tenantID string, window models.TimeWindow) (models.PairingReport, error)
	ActiveView(ctx context.Context, tenantID string) ([]models.ActiveAlarm, error)
	HistoricalView(ctx context.Context, tenantID string, window models.TimeWindow) ([]models.Event, error)
	MTTR(ctx context.Context, tenantID string, window models.TimeWindow) (float64, int64, error)
}

type Settings struct {
	BatchSize          int
	PageSize           int
	FetchConcurrency   int
	IncrementalOverlap time.Duration
	EventLookback      time.Duration
	// HistoryLookback caps how far back item history is read; zero reads the
	// whole event window.
	HistoryLookback time.Duration
	Now             func() time.Time
}

func DefaultSettings() Settings {
	return Settings{
		BatchSize:          200,
		PageSize:           1000,
		FetchConcurrency:   4,
		IncrementalOverlap: 5 * time.Minute,
		EventLookback:      720 * time.Hour,
		HistoryLookback:    24 * time.Hour,
	}
}

func (s Settings) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type Mirror struct {
	Db       db.DB
	Gateway  gateway.Gateway
	Index    *IndexCache
	Settings Settings

	Chunker    IChunker
	Cursor     ICursor
	Reconciler IReconciler
	Backfill   IBackfill
	Alarms     IAlarms
	Pairing    IPairing
}

type ServiceOpts struct {
	Chunker    IChunker
	Cursor     ICursor
	Reconciler IReconciler
	Backfill   IBackfill
	Alarms     IAlarms
	Pairing    IPairing
}

func (m *Mirror) WithServices(opts ServiceOpts) *Mirror {
	if opts.Chunker != nil {
		m.Chunker = opts.Chunker
	}
	if opts.Cursor != nil {
		m.Cursor = opts.Cursor
	}
	if opts.Reconciler != nil {
		m.Reconciler = opts.Reconciler
	}
	if opts.Backfill != nil {
		m.Backfill = opts.Backfill
	}
	if opts.Alarms != nil {
		m.Alarms = opts.Alarms
	}
	if opts.Pairing != nil {
		m.Pairing = opts.Pairing
	}
	return m
}

// WithDefaultServices wires every service to this mirror's own implementation.
func (m *Mirror) WithDefaultServices() *Mirror {
	return m.WithServices(ServiceOpts{
		Chunker:    m.GetIChunker(),
		Cursor:     m.GetICursor(),
		Reconciler: m.GetIReconciler(),
		Backfill:   m.GetIBackfill(),
		Alarms:     m.GetIAlarms(),
		Pairing:    m.GetIPairing(),
	})
}
