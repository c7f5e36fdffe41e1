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

func TestSyncActiveAlarmsOverwritesExistingRows(t *testing.T) {
	common.SetTestLoggerNop()

	gw := newFakeGateway()
	gw.add(gateway.KindProblem, problemRecord("p1", "T-unknown", 100), problemRecord("p2", "T-unknown", 200))

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, gw, false, false, false)
	defer ctrl.Finish()

	ctx := context.Background()
	tenantID := newTenant()

	counts, err := m.Alarms.SyncActive(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, models.ReconcileCounts{Created: 2}, counts)

	counts, err = m.Alarms.SyncActive(ctx, tenantID, wideWindow)
	require.NoError(t, err)
	assert.Equal(t, models.ReconcileCounts{Updated: 2}, counts)

	var alarms []models.ActiveAlarm
	require.NoError(t, m.Db.Conn.Where("tenant_id = ?", tenantID).Order("external_id").Find(&alarms).Error)
	require.Len(t, alarms, 2)
	assert.Equal(t, "T-unknown", alarms[0].TriggerExternalID)
	assert.Empty(t, alarms[0].HostExternalID)
	assert.True(t, alarms[0].RaisedAt.Equal(clockAt(100)))

	calls := gw.callsFor(gateway.KindProblem)
	require.NotEmpty(t, calls)
	assert.True(t, calls[0].Params.ChangedSince.Equal(wideWindow.From))
	assert.True(t, calls[0].Params.Until.Equal(wideWindow.To))
}

func TestSyncActiveAlarmsSkipsIncompleteRecords(t *testing.T) {
	common.SetTestLoggerNop()

	broken := problemRecord("p3", "T", 0)
	delete(broken, "clock")

	gw := newFakeGateway()
	gw.add(gateway.KindProblem, problemRecord("p1", "T", 100), broken)

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, gw, false, false, false)
	defer ctrl.Finish()

	counts, err := m.Alarms.SyncActive(context.Background(), newTenant(), wideWindow)
	require.NoError(t, err)
	assert.Equal(t, models.ReconcileCounts{Created: 1, Skipped: 1}, counts)
}

func TestSyncActiveAlarmsPropagatesRemoteFailure(t *testing.T) {
	common.SetTestLoggerNop()

	gw := newFakeGateway()
	gw.fail(gateway.KindProblem, errRemoteDown)

	ctrl, m, _, _, _ := GetMockMirrorWithMemorySqliteDialector(t, gw, false, false, false)
	defer ctrl.Finish()

	_, err := m.Alarms.SyncActive(context.Background(), newTenant(), wideWindow)
	assert.ErrorIs(t, err, errRemoteDown)
}
