package mirror

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"
	"liyu1981.xyz/monitoring-mirror-service/pkg/db"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror/mocks"
)

// baseClock is the epoch second every fixture event is offset from.
const baseClock int64 = 1_700_000_000

func GetMockMirrorWithMemorySqliteDialector(t *testing.T, gw gateway.Gateway, useMockICursor, useMockIReconciler, useMockIPairing bool) (
	*gomock.Controller,
	*Mirror,
	*mocks.MockICursor,
	*mocks.MockIReconciler,
	*mocks.MockIPairing,
) {
	ctrl := gomock.NewController(t)

	mockICursor := mocks.NewMockICursor(ctrl)
	mockIReconciler := mocks.NewMockIReconciler(ctrl)
	mockIPairing := mocks.NewMockIPairing(ctrl)
	dialector := db.UseMemorySqliteDialector()
	dbInstance := db.GetInstance(dialector) // ensure migrations

	index, err := NewIndexCache(1<<20, time.Minute)
	if err != nil {
		t.Fatalf("index cache: %v", err)
	}
	t.Cleanup(index.Close)

	settings := DefaultSettings()
	settings.BatchSize = 2
	settings.PageSize = 2
	settings.FetchConcurrency = 2

	mirrorInstance := (&Mirror{Db: *dbInstance, Gateway: gw, Index: index, Settings: settings}).WithDefaultServices()

	cursorService := mirrorInstance.GetICursor()
	if useMockICursor {
		cursorService = mockICursor
	}

	reconcilerService := mirrorInstance.GetIReconciler()
	if useMockIReconciler {
		reconcilerService = mockIReconciler
	}

	pairingService := mirrorInstance.GetIPairing()
	if useMockIPairing {
		pairingService = mockIPairing
	}

	mirrorInstance.WithServices(ServiceOpts{
		Cursor:     cursorService,
		Reconciler: reconcilerService,
		Pairing:    pairingService,
	})

	return ctrl, mirrorInstance, mockICursor, mockIReconciler, mockIPairing
}

func ParseLogs(r io.Reader) []any {
	scanner := bufio.NewScanner(r)
	var logs []any

	for scanner.Scan() {
		line := scanner.Text()
		var j any
		if err := json.Unmarshal([]byte(line), &j); err == nil {
			logs = append(logs, j)
		}
	}
	return logs
}

func newTenant() string {
	return "tenant-" + uuid.NewString()
}

func clockAt(offset int64) time.Time {
	return time.Unix(baseClock+offset, 0).UTC()
}

type fakeCall struct {
	TenantID string
	Kind     gateway.Kind
	Params   gateway.Params
}

// fakeGateway serves fixture records the way the remote scopes and pages
// them. A kind listed in failOn fails for every tenant, or only for the
// tenants listed in failTenants when that is set.
type fakeGateway struct {
	mu          sync.Mutex
	records     map[gateway.Kind][]gateway.Record
	failOn      map[gateway.Kind]error
	failTenants map[string]bool
	calls       []fakeCall
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		records:     map[gateway.Kind][]gateway.Record{},
		failOn:      map[gateway.Kind]error{},
		failTenants: map[string]bool{},
	}
}

func (f *fakeGateway) add(kind gateway.Kind, records ...gateway.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[kind] = append(f.records[kind], records...)
}

func (f *fakeGateway) fail(kind gateway.Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[kind] = err
}

func (f *fakeGateway) callsFor(kind gateway.Kind) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// kindOrder lists kinds in the order they were first requested.
func (f *fakeGateway) kindOrder() []gateway.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var order []gateway.Kind
	for _, c := range f.calls {
		if !slices.Contains(order, c.Kind) {
			order = append(order, c.Kind)
		}
	}
	return order
}

func scopeIDs(kind gateway.Kind, r gateway.Record) []string {
	switch kind {
	case gateway.KindHost:
		return []string{r.String("hostid")}
	case gateway.KindItem:
		return []string{r.String("hostid")}
	case gateway.KindTrigger:
		return r.NestedIDs("hosts", "hostid")
	case gateway.KindEvent, gateway.KindProblem:
		return []string{r.String("objectid")}
	case gateway.KindHistory:
		return []string{r.String("itemid")}
	case gateway.KindAlert:
		return []string{r.String("eventid")}
	default:
		return nil
	}
}

func (f *fakeGateway) List(ctx context.Context, tenantID string, kind gateway.Kind, params gateway.Params) (gateway.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fakeCall{TenantID: tenantID, Kind: kind, Params: params})
	if err := ctx.Err(); err != nil {
		return gateway.Page{}, err
	}
	if err, ok := f.failOn[kind]; ok && (len(f.failTenants) == 0 || f.failTenants[tenantID]) {
		return gateway.Page{}, &gateway.RemoteFetchError{Kind: kind, TenantID: tenantID, Status: 502, Err: err}
	}

	var matched []gateway.Record
	for _, r := range f.records[kind] {
		if len(params.IDs) > 0 && !slices.ContainsFunc(scopeIDs(kind, r), func(id string) bool {
			return slices.Contains(params.IDs, id)
		}) {
			continue
		}
		if kind != gateway.KindHost && kind != gateway.KindItem && kind != gateway.KindTrigger {
			clock := r.Time("clock")
			if clock != nil && !params.ChangedSince.IsZero() && clock.Before(params.ChangedSince) {
				continue
			}
			if clock != nil && !params.Until.IsZero() && clock.After(params.Until) {
				continue
			}
		}
		matched = append(matched, r)
	}

	total := len(matched)
	start := min(params.Offset, total)
	end := total
	if params.Limit > 0 {
		end = min(start+params.Limit, total)
	}
	return gateway.Page{Records: matched[start:end], Total: total}, nil
}

var errRemoteDown = errors.New("remote down")

func groupRefs(groups ...string) []any {
	refs := make([]any, 0, len(groups))
	for _, g := range groups {
		refs = append(refs, map[string]any{"groupid": g, "name": "group " + g})
	}
	return refs
}

func hostRecord(id string, groups ...string) gateway.Record {
	return gateway.Record{
		"hostid":     id,
		"host":       "tech-" + id,
		"name":       "Host " + id,
		"status":     "0",
		"hostgroups": groupRefs(groups...),
	}
}

func itemRecord(id, hostID string) gateway.Record {
	return gateway.Record{
		"itemid":     id,
		"hostid":     hostID,
		"name":       "CPU load " + id,
		"key_":       "system.cpu.load[" + id + "]",
		"value_type": "0",
		"units":      "%",
		"status":     "0",
		"lastvalue":  "0.42",
		"lastclock":  strconv.FormatInt(baseClock, 10),
	}
}

func triggerRecord(id, hostID string, itemIDs ...string) gateway.Record {
	items := make([]any, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		items = append(items, map[string]any{"itemid": itemID})
	}
	return gateway.Record{
		"triggerid":   id,
		"description": "High load on trigger " + id,
		"expression":  "last(/host/system.cpu.load)>5",
		"priority":    "3",
		"status":      "0",
		"value":       "0",
		"lastchange":  strconv.FormatInt(baseClock, 10),
		"hosts":       []any{map[string]any{"hostid": hostID}},
		"items":       items,
	}
}

// eventRecord builds a trigger event; value "1" raises a problem and "0"
// resolves one.
func eventRecord(id, triggerID, hostID, value string, offset int64) gateway.Record {
	r := gateway.Record{
		"eventid":      id,
		"objectid":     triggerID,
		"value":        value,
		"clock":        strconv.FormatInt(baseClock+offset, 10),
		"name":         "High load on trigger " + triggerID,
		"severity":     "3",
		"acknowledged": "0",
		"r_eventid":    "0",
	}
	if hostID != "" {
		r["hosts"] = []any{map[string]any{"hostid": hostID}}
	}
	return r
}

func problemRecord(id, triggerID string, offset int64) gateway.Record {
	return gateway.Record{
		"eventid":      id,
		"objectid":     triggerID,
		"clock":        strconv.FormatInt(baseClock+offset, 10),
		"name":         "High load on trigger " + triggerID,
		"severity":     "4",
		"acknowledged": "1",
	}
}

func historyRecord(itemID, value string, offset int64) gateway.Record {
	return gateway.Record{
		"itemid": itemID,
		"clock":  strconv.FormatInt(baseClock+offset, 10),
		"ns":     "0",
		"value":  value,
	}
}

func alertRecord(id, eventID string, offset int64) gateway.Record {
	return gateway.Record{
		"alertid": id,
		"eventid": eventID,
		"clock":   strconv.FormatInt(baseClock+offset, 10),
		"sendto":  "oncall@example.com",
		"subject": "Problem on event " + eventID,
		"message": "High load",
		"status":  "1",
	}
}

// seedInventory gives the fake remote one host with one item and one trigger.
func seedInventory(gw *fakeGateway) {
	gw.add(gateway.KindHost, hostRecord("10001", "2"))
	gw.add(gateway.KindItem, itemRecord("20001", "10001"))
	gw.add(gateway.KindTrigger, triggerRecord("30001", "10001", "20001"))
}
