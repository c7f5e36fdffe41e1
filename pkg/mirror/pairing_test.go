package mirror

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

var wideWindow = models.TimeWindow{From: clockAt(0), To: clockAt(10_000)}

func loadEvent(t *testing.T, m *Mirror, tenantID, externalID string) models.Event {
	t.Helper()
	var e models.Event
	require.NoError(t, m.Db.Conn.Where("tenant_id = ? AND external_id = ?", tenantID, externalID).First(&e).Error)
	return e
}

func TestPairingMatchesResolutionAndFlagsExtraResolution(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, newFakeGateway(), false, false, false)
	defer ctrl.Finish()

	ctx := context.Background()
	tenantID := newTenant()

	_, err := m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		eventRecord("p1", "T", "H", "1", 100),
		eventRecord("r1", "T", "H", "0", 160),
		eventRecord("r2", "T", "H", "0", 200),
	})
	require.NoError(t, err)

	report, err := m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Examined)
	assert.Equal(t, 1, report.Paired)
	assert.Equal(t, 0, report.Open)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, models.AnomalyUnmatchedResolution, report.Anomalies[0].Kind)
	assert.Equal(t, "r2", report.Anomalies[0].EventExternalID)
	assert.Equal(t, "trigger:T", report.Anomalies[0].CorrelationKey)

	problem := loadEvent(t, m, tenantID, "p1")
	resolution := loadEvent(t, m, tenantID, "r1")
	require.NotNil(t, problem.DurationSeconds)
	assert.Equal(t, int64(60), *problem.DurationSeconds)
	require.NotNil(t, problem.ResolutionEventID)
	assert.Equal(t, resolution.ID, *problem.ResolutionEventID)

	extra := loadEvent(t, m, tenantID, "r2")
	assert.Nil(t, extra.DurationSeconds)
	assert.Nil(t, extra.ResolutionEventID)
}

func TestPairingIsIdempotent(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, newFakeGateway(), false, false, false)
	defer ctrl.Finish()

	ctx := context.Background()
	tenantID := newTenant()

	_, err := m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		eventRecord("p1", "T", "H", "1", 100),
		eventRecord("r1", "T", "H", "0", 160),
		eventRecord("p2", "T", "H", "1", 300),
	})
	require.NoError(t, err)

	first, err := m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Paired)
	assert.Equal(t, []string{"p2"}, first.OpenEventIDs)
	assert.Equal(t, 1, first.AlarmsTouched)

	second, err := m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Paired)
	assert.Empty(t, second.Anomalies)
	assert.Equal(t, []string{"p2"}, second.OpenEventIDs)
	assert.Equal(t, 0, second.AlarmsTouched)

	problem := loadEvent(t, m, tenantID, "p1")
	require.NotNil(t, problem.DurationSeconds)
	assert.Equal(t, int64(60), *problem.DurationSeconds)
}

func TestPairingResolutionOfProblemOutsideWindowIsNotReported(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, newFakeGateway(), false, false, false)
	defer ctrl.Finish()

	ctx := context.Background()
	tenantID := newTenant()

	_, err := m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		eventRecord("p1", "T", "H", "1", 100),
		eventRecord("r1", "T", "H", "0", 500),
	})
	require.NoError(t, err)

	_, err = m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)

	narrow := models.TimeWindow{From: clockAt(400), To: clockAt(600)}
	report, err := m.Pairing.Pair(ctx, tenantID, narrow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Empty(t, report.Anomalies)
}

func TestPairingSupersededProblem(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, newFakeGateway(), false, false, false)
	defer ctrl.Finish()

	ctx := context.Background()
	tenantID := newTenant()

	_, err := m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		eventRecord("p1", "T", "H", "1", 100),
		eventRecord("p2", "T", "H", "1", 150),
		eventRecord("r1", "T", "H", "0", 200),
	})
	require.NoError(t, err)

	report, err := m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Paired)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, models.AnomalySupersededProblem, report.Anomalies[0].Kind)
	assert.Equal(t, "p1", report.Anomalies[0].EventExternalID)
	assert.Equal(t, 0, report.Open)
	assert.Empty(t, report.OpenEventIDs)
	assert.Zero(t, report.AlarmsTouched)

	latest := loadEvent(t, m, tenantID, "p2")
	require.NotNil(t, latest.DurationSeconds)
	assert.Equal(t, int64(50), *latest.DurationSeconds)

	superseded := loadEvent(t, m, tenantID, "p1")
	assert.Nil(t, superseded.ResolutionEventID)
	require.NotNil(t, superseded.SupersededByEventID)
	assert.Equal(t, latest.ID, *superseded.SupersededByEventID)

	active, err := m.Pairing.ActiveView(ctx, tenantID)
	require.NoError(t, err)
	assert.Empty(t, active)

	// the closed problem is not reported again
	report, err = m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Empty(t, report.Anomalies)
	assert.Empty(t, report.OpenEventIDs)
}

func TestActiveViewHidesSupersededAlarm(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, newFakeGateway(), false, false, false)
	defer ctrl.Finish()

	ctx := context.Background()
	tenantID := newTenant()

	_, err := m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		eventRecord("p1", "T", "H", "1", 100),
	})
	require.NoError(t, err)
	report, err := m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, report.OpenEventIDs)

	// p1 was projected while it was the only open problem
	_, err = m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		eventRecord("p2", "T", "H", "1", 150),
	})
	require.NoError(t, err)
	report, err = m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, report.OpenEventIDs)

	active, err := m.Pairing.ActiveView(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, common.Mapper(active, func(a models.ActiveAlarm) string { return a.ExternalID }))
}

func TestPairingPrefersExplicitResolutionReference(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, newFakeGateway(), false, false, false)
	defer ctrl.Finish()

	ctx := context.Background()
	tenantID := newTenant()

	first := eventRecord("p1", "T", "H", "1", 100)
	first["r_eventid"] = "r1"
	_, err := m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		first,
		eventRecord("p2", "T", "H", "1", 150),
		eventRecord("r1", "T", "H", "0", 200),
	})
	require.NoError(t, err)

	report, err := m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Paired)
	assert.Empty(t, report.Anomalies)
	assert.Equal(t, []string{"p2"}, report.OpenEventIDs)

	linked := loadEvent(t, m, tenantID, "p1")
	require.NotNil(t, linked.DurationSeconds)
	assert.Equal(t, int64(100), *linked.DurationSeconds)
}

func TestPairingReportsBrokenExplicitReferences(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, newFakeGateway(), false, false, false)
	defer ctrl.Finish()

	ctx := context.Background()
	tenantID := newTenant()

	dangling := eventRecord("p1", "T1", "H", "1", 100)
	dangling["r_eventid"] = "missing"
	backwards := eventRecord("p2", "T2", "H", "1", 300)
	backwards["r_eventid"] = "r2"
	_, err := m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		dangling,
		backwards,
		eventRecord("r2", "T2", "H", "0", 250),
	})
	require.NoError(t, err)

	report, err := m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Paired)

	kinds := common.Mapper(report.Anomalies, func(a models.PairingAnomaly) models.AnomalyKind { return a.Kind })
	assert.Contains(t, kinds, models.AnomalyDanglingLink)
	assert.Contains(t, kinds, models.AnomalyOutOfOrder)
	assert.Contains(t, kinds, models.AnomalyUnmatchedResolution)
}

func TestPairingCorrelatesByHostAndNameWithoutTrigger(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, newFakeGateway(), false, false, false)
	defer ctrl.Finish()

	ctx := context.Background()
	tenantID := newTenant()

	_, err := m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		eventRecord("p1", "", "H", "1", 100),
		eventRecord("r1", "", "H", "0", 400),
	})
	require.NoError(t, err)

	report, err := m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Paired)

	problem := loadEvent(t, m, tenantID, "p1")
	require.NotNil(t, problem.DurationSeconds)
	assert.Equal(t, int64(300), *problem.DurationSeconds)
}

func TestActiveViewAndHistoricalView(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, newFakeGateway(), false, false, false)
	defer ctrl.Finish()

	ctx := context.Background()
	tenantID := newTenant()

	_, err := m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		eventRecord("p1", "T1", "H", "1", 100),
		eventRecord("p2", "T2", "H", "1", 120),
	})
	require.NoError(t, err)
	_, err = m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)

	active, err := m.Pairing.ActiveView(ctx, tenantID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"},
		common.Mapper(active, func(a models.ActiveAlarm) string { return a.ExternalID }))

	_, err = m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		eventRecord("r1", "T1", "H", "0", 220),
	})
	require.NoError(t, err)
	_, err = m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)

	active, err = m.Pairing.ActiveView(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p2", active[0].ExternalID)

	history, err := m.Pairing.HistoricalView(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "p1", history[0].ExternalID)
	require.NotNil(t, history[0].ResolutionEvent)
	assert.Equal(t, "r1", history[0].ResolutionEvent.ExternalID)
	assert.Nil(t, history[1].ResolutionEvent)
}

func TestMTTR(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, newFakeGateway(), false, false, false)
	defer ctrl.Finish()

	ctx := context.Background()
	tenantID := newTenant()

	minutes, samples, err := m.Pairing.MTTR(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, 0.0, minutes)
	assert.Equal(t, int64(0), samples)

	_, err = m.Reconciler.Reconcile(ctx, tenantID, gateway.KindEvent, []gateway.Record{
		eventRecord("p1", "T1", "H", "1", 100),
		eventRecord("r1", "T1", "H", "0", 160),
		eventRecord("p2", "T2", "H", "1", 200),
		eventRecord("r2", "T2", "H", "0", 390),
	})
	require.NoError(t, err)
	_, err = m.Pairing.Pair(ctx, tenantID, wideWindow)
	require.NoError(t, err)

	minutes, samples, err = m.Pairing.MTTR(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), samples)
	// (60s + 190s) / 2 = 125s
	assert.Equal(t, 2.08, minutes)
}
