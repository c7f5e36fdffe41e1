package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/time/rate"

	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/db"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway/mocks"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
	_ "liyu1981.xyz/monitoring-mirror-service/pkg/testing"
)

// fakeZabbix answers the JSON-RPC calls the gateway makes.
type fakeZabbix struct {
	mu          sync.Mutex
	hosts       []map[string]any
	logins      int
	expireOnce  bool
	failStatus  int
	lastMethod  string
	lastParams  map[string]any
	lastAuth    string
	methodCalls map[string]int
}

func (f *fakeZabbix) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
		ID     int64          `json:"id"`
		Auth   string         `json:"auth"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.methodCalls == nil {
		f.methodCalls = map[string]int{}
	}
	f.methodCalls[req.Method]++

	if f.failStatus != 0 {
		w.WriteHeader(f.failStatus)
		_, _ = w.Write([]byte("upstream unavailable"))
		return
	}

	reply := func(result any, rpcErr map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		body := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			body["error"] = rpcErr
		} else {
			body["result"] = result
		}
		_ = json.NewEncoder(w).Encode(body)
	}

	if req.Method == "user.login" {
		f.logins++
		reply("token-"+strconv.Itoa(f.logins), nil)
		return
	}

	if f.expireOnce {
		f.expireOnce = false
		reply(nil, map[string]any{"code": -32602, "message": "Invalid params.", "data": "Session terminated, re-login, please."})
		return
	}

	f.lastMethod = req.Method
	f.lastParams = req.Params
	f.lastAuth = req.Auth

	switch req.Method {
	case "host.get":
		reply(f.hosts, nil)
	default:
		reply([]any{}, nil)
	}
}

func newFakeHosts(n int) []map[string]any {
	hosts := make([]map[string]any, n)
	for i := range n {
		hosts[i] = map[string]any{
			"hostid": strconv.Itoa(10000 + i),
			"host":   "host-" + strconv.Itoa(i),
			"name":   "Host " + strconv.Itoa(i),
			"status": "0",
		}
	}
	return hosts
}

func newTestGateway(t *testing.T, fake *fakeZabbix, opts ZabbixOptions) (*ZabbixGateway, *httptest.Server) {
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	if opts.Connections == nil {
		opts.Connections = StaticConnectionSource{
			"tenant-a":   {TenantID: "tenant-a", BaseURL: server.URL, Username: "api", Password: "secret", Enabled: true},
			"tenant-off": {TenantID: "tenant-off", BaseURL: server.URL, Enabled: false},
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	return NewZabbixGateway(opts), server
}

func TestZabbixListReturnsWholeScopedResultOnce(t *testing.T) {
	common.SetTestLoggerNop()

	fake := &fakeZabbix{hosts: newFakeHosts(5)}
	gw, _ := newTestGateway(t, fake, ZabbixOptions{})

	ctx := context.Background()

	page, err := gw.List(ctx, "tenant-a", KindHost, Params{Offset: 0, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Records, 5)
	assert.Equal(t, "10000", page.Records[0].ExternalID(KindHost))
	assert.Equal(t, "10004", page.Records[4].ExternalID(KindHost))
	_, hasLimit := fake.lastParams["limit"]
	assert.False(t, hasLimit)

	// later pages are empty and never reach the remote
	page, err = gw.List(ctx, "tenant-a", KindHost, Params{Offset: 2, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Records)

	fake.mu.Lock()
	assert.Equal(t, 1, fake.methodCalls["host.get"])
	fake.mu.Unlock()

	// one login reused for every call
	assert.Equal(t, 1, fake.logins)
	assert.Equal(t, "token-1", fake.lastAuth)
}

func TestZabbixReloginOnExpiredSession(t *testing.T) {
	common.SetTestLoggerNop()

	fake := &fakeZabbix{hosts: newFakeHosts(1)}
	gw, _ := newTestGateway(t, fake, ZabbixOptions{})

	_, err := gw.List(context.Background(), "tenant-a", KindHost, Params{Limit: 10})
	require.NoError(t, err)

	fake.mu.Lock()
	fake.expireOnce = true
	fake.mu.Unlock()

	page, err := gw.List(context.Background(), "tenant-a", KindHost, Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, 2, fake.logins)
	assert.Equal(t, "token-2", fake.lastAuth)
}

func TestZabbixRequestShapes(t *testing.T) {
	common.SetTestLoggerNop()

	fake := &fakeZabbix{}
	gw, _ := newTestGateway(t, fake, ZabbixOptions{})
	ctx := context.Background()

	since := time.Unix(1700000000, 0)
	until := time.Unix(1700003600, 0)

	_, err := gw.List(ctx, "tenant-a", KindEvent, Params{
		IDs:          []string{"1", "2"},
		ChangedSince: since,
		Until:        until,
		Limit:        100,
	})
	require.NoError(t, err)
	assert.Equal(t, "event.get", fake.lastMethod)
	assert.Equal(t, []any{"1", "2"}, fake.lastParams["objectids"])
	assert.Equal(t, float64(since.Unix()), fake.lastParams["time_from"])
	assert.Equal(t, float64(until.Unix()), fake.lastParams["time_till"])
	assert.Equal(t, float64(0), fake.lastParams["source"])

	_, err = gw.List(ctx, "tenant-a", KindTrigger, Params{IDs: []string{"10084"}, ChangedSince: since, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, "trigger.get", fake.lastMethod)
	assert.Equal(t, []any{"10084"}, fake.lastParams["hostids"])
	assert.Equal(t, float64(since.Unix()), fake.lastParams["lastChangeSince"])
	assert.Equal(t, []any{"itemid"}, fake.lastParams["selectItems"])

	_, err = gw.List(ctx, "tenant-a", KindItem, Params{IDs: []string{"10084"}, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, "item.get", fake.lastMethod)
	assert.Equal(t, []any{"10084"}, fake.lastParams["hostids"])

	_, err = gw.List(ctx, "tenant-a", KindProblem, Params{ChangedSince: since})
	require.NoError(t, err)
	assert.Equal(t, "problem.get", fake.lastMethod)
	_, hasLimit := fake.lastParams["limit"]
	assert.False(t, hasLimit)

	_, err = gw.List(ctx, "tenant-a", KindHistory, Params{
		IDs:          []string{"23296"},
		ChangedSince: since,
		Until:        until,
		ValueType:    3,
	})
	require.NoError(t, err)
	assert.Equal(t, "history.get", fake.lastMethod)
	assert.Equal(t, []any{"23296"}, fake.lastParams["itemids"])
	assert.Equal(t, float64(3), fake.lastParams["history"])
	assert.Equal(t, float64(since.Unix()), fake.lastParams["time_from"])
	assert.Equal(t, float64(until.Unix()), fake.lastParams["time_till"])
	assert.Equal(t, []any{"clock"}, fake.lastParams["sortfield"])

	_, err = gw.List(ctx, "tenant-a", KindAlert, Params{IDs: []string{"40001"}, ChangedSince: since, Until: until})
	require.NoError(t, err)
	assert.Equal(t, "alert.get", fake.lastMethod)
	assert.Equal(t, []any{"40001"}, fake.lastParams["eventids"])
	assert.Equal(t, float64(since.Unix()), fake.lastParams["time_from"])
	assert.Equal(t, "extend", fake.lastParams["output"])
}

func TestZabbixHTTPErrorIsRemoteFetchError(t *testing.T) {
	common.SetTestLoggerNop()

	fake := &fakeZabbix{failStatus: http.StatusBadGateway}
	gw, _ := newTestGateway(t, fake, ZabbixOptions{})

	_, err := gw.List(context.Background(), "tenant-a", KindHost, Params{Limit: 10})
	require.Error(t, err)

	var fetchErr *RemoteFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, KindHost, fetchErr.Kind)
	assert.Equal(t, "tenant-a", fetchErr.TenantID)
	assert.Equal(t, http.StatusBadGateway, fetchErr.Status)
}

func TestZabbixConnectionErrors(t *testing.T) {
	common.SetTestLoggerNop()

	gw, _ := newTestGateway(t, &fakeZabbix{}, ZabbixOptions{})

	_, err := gw.List(context.Background(), "tenant-unknown", KindHost, Params{})
	assert.ErrorIs(t, err, ErrNoConnection)

	_, err = gw.List(context.Background(), "tenant-off", KindHost, Params{})
	assert.ErrorIs(t, err, ErrConnectionDisabled)

	_, err = gw.List(context.Background(), "tenant-a", Kind("dashboard"), Params{})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestZabbixBreakerOpensAfterFailures(t *testing.T) {
	common.SetTestLoggerNop()

	fake := &fakeZabbix{failStatus: http.StatusInternalServerError}
	gw, _ := newTestGateway(t, fake, ZabbixOptions{
		Breakers: NewBreakerRegistry(BreakerSettings{MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Minute}),
	})

	ctx := context.Background()
	for range 2 {
		_, err := gw.List(ctx, "tenant-a", KindHost, Params{})
		require.Error(t, err)
	}

	fake.mu.Lock()
	callsBefore := fake.methodCalls["user.login"]
	fake.mu.Unlock()

	_, err := gw.List(ctx, "tenant-a", KindHost, Params{})
	var fetchErr *RemoteFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "circuit open", fetchErr.Detail)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))

	fake.mu.Lock()
	assert.Equal(t, callsBefore, fake.methodCalls["user.login"], "open breaker must not reach the remote")
	fake.mu.Unlock()
}

func TestZabbixWaitsOnTenantLimiter(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	limiters := mocks.NewMockLimiterSource(ctrl)
	limiters.EXPECT().GetLimiter("tenant-a").Return(rate.NewLimiter(rate.Inf, 1)).Times(1)

	fake := &fakeZabbix{hosts: newFakeHosts(1)}
	gw, _ := newTestGateway(t, fake, ZabbixOptions{Limiters: limiters})

	_, err := gw.List(context.Background(), "tenant-a", KindHost, Params{Limit: 1})
	require.NoError(t, err)
}

func TestZabbixLimiterHonoursContext(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	exhausted := rate.NewLimiter(rate.Every(time.Hour), 1)
	exhausted.Allow()

	limiters := mocks.NewMockLimiterSource(ctrl)
	limiters.EXPECT().GetLimiter("tenant-a").Return(exhausted)

	gw, _ := newTestGateway(t, &fakeZabbix{}, ZabbixOptions{Limiters: limiters})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := gw.List(ctx, "tenant-a", KindHost, Params{})
	var fetchErr *RemoteFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "rate limiter", fetchErr.Detail)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://z.example.com/api_jsonrpc.php", endpointURL("https://z.example.com/"))
	assert.Equal(t, "https://z.example.com/zabbix/api_jsonrpc.php", endpointURL("https://z.example.com/zabbix/api_jsonrpc.php"))
}

func TestStaticConnectionSourceTenants(t *testing.T) {
	src := StaticConnectionSource{
		"b": {TenantID: "b", Enabled: true},
		"a": {TenantID: "a", Enabled: true},
		"c": {TenantID: "c", Enabled: false},
	}
	tenants, err := src.Tenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tenants)

	_, err = src.Connection(context.Background(), "c")
	assert.ErrorIs(t, err, ErrConnectionDisabled)
}

func TestDBConnectionSourceSaveAndResolve(t *testing.T) {
	common.SetTestLoggerNop()

	src := &DBConnectionSource{Db: *testDB()}
	ctx := context.Background()

	tenant := "conn-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	require.NoError(t, src.Save(ctx, models.TenantConnection{TenantID: tenant, BaseURL: "http://one", Enabled: true}))

	conn, err := src.Connection(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "http://one", conn.BaseURL)

	require.NoError(t, src.Save(ctx, models.TenantConnection{TenantID: tenant, BaseURL: "http://two", Enabled: false}))
	_, err = src.Connection(ctx, tenant)
	assert.ErrorIs(t, err, ErrConnectionDisabled)

	tenants, err := src.Tenants(ctx)
	require.NoError(t, err)
	assert.NotContains(t, tenants, tenant)
}

func testDB() *db.DB {
	return db.GetInstance(db.UseMemorySqliteDialector())
}
