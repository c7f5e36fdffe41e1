package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	mirrorGrpc "liyu1981.xyz/monitoring-mirror-service/pkg/grpc"
)

var maxTenants int = 200
var hostsPerTenant int = 50
var httpHostPort string = "127.0.0.1:1080"

// the server needs MIRROR_GRPC_HOST_PORT=127.0.0.1:10801 for the gRPC half of the load
var grpcHostPort string = "127.0.0.1:10801"
var remoteHostPort string = "127.0.0.1:10802"

var grpcClient *mirrorGrpc.SyncServiceClient

var rnd *rand.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
var rndMu sync.Mutex

func main() {
	go serveFakeRemote()

	tenantIDs := make([]string, maxTenants)
	for i := range maxTenants {
		tenantIDs[i] = "bench-" + uuid.NewString()[:8]
	}
	fmt.Printf("generated %v tenant IDs\n", maxTenants)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", httpHostPort))
	if err != nil {
		log.Fatal("Failed to connect to HTTP server:", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatal("HTTP server not available")
	}
	fmt.Printf("http server verified\n")

	conn, err := grpc.NewClient(grpcHostPort, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal("Failed to connect to gRPC server:", err)
	}
	defer conn.Close()
	grpcClient = mirrorGrpc.NewSyncServiceClient(conn)
	fmt.Printf("gRPC client created\n")

	elapsed := forEachTenant(tenantIDs, registerTenant)
	fmt.Printf(
		"\rregistered %v tenants: used time=%v seconds, throughput=%v action/second\n",
		maxTenants, elapsed.Seconds(), float64(maxTenants)/elapsed.Seconds(),
	)

	elapsed = forEachTenant(tenantIDs, func(tenantID string) { runSync(tenantID, "full") })
	fmt.Printf(
		"\rfull synced %v tenants of %v hosts: used time=%v seconds, throughput=%v hosts/second\n",
		maxTenants, hostsPerTenant, elapsed.Seconds(), float64(maxTenants*hostsPerTenant)/elapsed.Seconds(),
	)

	elapsed = forEachTenant(tenantIDs, doActions)
	fmt.Printf(
		"\n\rdid actions for %v tenants: used time=%v seconds, throughput=%v action/second\n",
		maxTenants, elapsed.Seconds(), float64(maxTenants*3)/elapsed.Seconds(),
	)
}

func forEachTenant(tenantIDs []string, action func(string)) time.Duration {
	startTime := time.Now()
	wg := sync.WaitGroup{}
	for _, tenantID := range tenantIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			action(tenantID)
		}()
	}
	wg.Wait()
	return time.Since(startTime)
}

func flipCoin() bool {
	rndMu.Lock()
	defer rndMu.Unlock()
	return rnd.Int31n(100000)%2 == 0
}

func rndSleep() {
	rndMu.Lock()
	d := time.Duration(100+rnd.Int31n(1000)) * time.Millisecond
	rndMu.Unlock()
	time.Sleep(d)
}

func doJSON(method, url string, payload any) (*http.Response, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

func registerTenant(tenantID string) {
	resp, err := doJSON(http.MethodPut, fmt.Sprintf("http://%s/tenants/%s/connection", httpHostPort, tenantID), map[string]any{
		"base_url": "http://" + remoteHostPort,
		"username": "bench",
		"password": "bench",
		"enabled":  true,
	})
	if err != nil {
		panic(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("register tenant %s: status %d", tenantID, resp.StatusCode))
	}

	// lift the ops limiter so the run triggers are not throttled
	resp, err = doJSON(http.MethodPost, fmt.Sprintf("http://%s/tenants/%s/limiter", httpHostPort, tenantID), map[string]any{
		"rate":  1000,
		"burst": 100,
	})
	if err != nil {
		panic(err)
	}
	resp.Body.Close()
}

func runSync(tenantID, mode string) {
	if flipCoin() {
		resp, err := doJSON(http.MethodPost, fmt.Sprintf("http://%s/tenants/%s/sync/%s", httpHostPort, tenantID, mode), nil)
		if err != nil {
			fmt.Printf("\nerror: %v\n", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
			fmt.Printf("\n%s sync for %s: status %d\n", mode, tenantID, resp.StatusCode)
		}
		return
	}

	call := grpcClient.RunIncremental
	if mode == "full" {
		call = grpcClient.RunFull
	}
	if _, err := call(context.Background(), mirrorGrpc.TenantRequest(tenantID)); err != nil {
		fmt.Printf("\n%s sync for %s: %v\n", mode, tenantID, err)
	}
}

func doActions(tenantID string) {
	actions := []func(){
		func() { runSync(tenantID, "incremental") },
		genGetAction(tenantID, "alarms/active"),
		genGetAction(tenantID, "mttr"),
	}
	actionNames := []string{
		"Incremental",
		"ActiveAlarms",
		"MTTR",
	}
	rndMu.Lock()
	rnd.Shuffle(len(actions), func(i, j int) {
		actions[i], actions[j] = actions[j], actions[i]
		actionNames[i], actionNames[j] = actionNames[j], actionNames[i]
	})
	rndMu.Unlock()
	for index, action := range actions {
		action()
		fmt.Printf("\rexecuted action %v for tenant %v", actionNames[index], tenantID)
		rndSleep()
	}
}

func genGetAction(tenantID, path string) func() {
	return func() {
		resp, err := http.Get(fmt.Sprintf("http://%s/tenants/%s/%s", httpHostPort, tenantID, path))
		if err != nil {
			fmt.Printf("\nerror: %v\n", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fmt.Printf("\nGET %s for %s: status %d\n", path, tenantID, resp.StatusCode)
		}
	}
}

// fake remote: every tenant sees the same inventory of hostsPerTenant hosts,
// two items and one trigger per host. Even hosts had a problem that resolved an
// hour ago, odd hosts have one still open. Every item has a sample per minute
// over the last ten minutes and every problem sent one alert.

type rpcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
	ID     int64          `json:"id"`
}

func serveFakeRemote() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	base := time.Now().Add(-2 * time.Hour)
	r.POST("/api_jsonrpc.php", func(c *gin.Context) {
		var req rpcRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var result any
		switch req.Method {
		case "user.login":
			result = "bench-token"
		case "host.get":
			result = fakeHosts(ids(req.Params, "hostids"))
		case "item.get":
			result = fakeItems(ids(req.Params, "hostids"))
		case "trigger.get":
			result = fakeTriggers(ids(req.Params, "hostids"))
		case "event.get":
			result = fakeEvents(ids(req.Params, "objectids"), base, false)
		case "problem.get":
			result = fakeEvents(ids(req.Params, "objectids"), base, true)
		case "history.get":
			result = fakeHistory(ids(req.Params, "itemids"))
		case "alert.get":
			result = fakeAlerts(ids(req.Params, "eventids"), base)
		default:
			result = []any{}
		}
		c.JSON(http.StatusOK, gin.H{"jsonrpc": "2.0", "result": result, "id": req.ID})
	})
	if err := r.Run(remoteHostPort); err != nil {
		log.Fatal("fake remote stopped:", err)
	}
}

func ids(params map[string]any, field string) map[string]bool {
	raw, ok := params[field].([]any)
	if !ok {
		return nil
	}
	set := make(map[string]bool, len(raw))
	for _, v := range raw {
		set[fmt.Sprint(v)] = true
	}
	return set
}

func hostIDs(filter map[string]bool) []int {
	var out []int
	for i := 1; i <= hostsPerTenant; i++ {
		if filter == nil || filter[strconv.Itoa(i)] {
			out = append(out, i)
		}
	}
	return out
}

func fakeHosts(filter map[string]bool) []map[string]any {
	var out []map[string]any
	for _, i := range hostIDs(filter) {
		out = append(out, map[string]any{
			"hostid":     strconv.Itoa(i),
			"host":       fmt.Sprintf("srv-%03d", i),
			"name":       fmt.Sprintf("Server %d", i),
			"status":     "0",
			"hostgroups": []map[string]any{{"groupid": strconv.Itoa(i%5 + 1), "name": fmt.Sprintf("group-%d", i%5+1)}},
		})
	}
	return out
}

func fakeItems(filter map[string]bool) []map[string]any {
	var out []map[string]any
	for _, i := range hostIDs(filter) {
		for j, key := range []string{"system.cpu.load", "vfs.fs.size[/,pfree]"} {
			out = append(out, map[string]any{
				"itemid":     strconv.Itoa(i*10 + j),
				"hostid":     strconv.Itoa(i),
				"name":       key,
				"key_":       key,
				"value_type": "0",
				"units":      "",
				"lastvalue":  "0.5",
				"lastclock":  strconv.FormatInt(time.Now().Unix(), 10),
				"status":     "0",
			})
		}
	}
	return out
}

func fakeTriggers(filter map[string]bool) []map[string]any {
	var out []map[string]any
	for _, i := range hostIDs(filter) {
		out = append(out, map[string]any{
			"triggerid":   strconv.Itoa(1000 + i),
			"description": fmt.Sprintf("High load on srv-%03d", i),
			"expression":  fmt.Sprintf("last(/srv-%03d/system.cpu.load)>5", i),
			"priority":    "3",
			"status":      "0",
			"value":       strconv.Itoa(i % 2),
			"lastchange":  strconv.FormatInt(time.Now().Unix(), 10),
			"items":       []map[string]any{{"itemid": strconv.Itoa(i * 10)}},
			"hosts":       []map[string]any{{"hostid": strconv.Itoa(i)}},
		})
	}
	return out
}

func fakeEvents(filter map[string]bool, base time.Time, openOnly bool) []map[string]any {
	var out []map[string]any
	for i := 1; i <= hostsPerTenant; i++ {
		triggerID := strconv.Itoa(1000 + i)
		if filter != nil && !filter[triggerID] {
			continue
		}
		open := i%2 == 1
		if openOnly && !open {
			continue
		}
		problemID, resolutionID := strconv.Itoa(i*2), strconv.Itoa(i*2+1)
		problem := map[string]any{
			"eventid":      problemID,
			"objectid":     triggerID,
			"value":        "1",
			"clock":        strconv.FormatInt(base.Add(time.Duration(i)*time.Second).Unix(), 10),
			"name":         fmt.Sprintf("High load on srv-%03d", i),
			"severity":     "3",
			"acknowledged": "0",
			"r_eventid":    "0",
			"hosts":        []map[string]any{{"hostid": strconv.Itoa(i)}},
		}
		if !open {
			problem["r_eventid"] = resolutionID
		}
		out = append(out, problem)
		if open || openOnly {
			continue
		}
		out = append(out, map[string]any{
			"eventid":   resolutionID,
			"objectid":  triggerID,
			"value":     "0",
			"clock":     strconv.FormatInt(base.Add(time.Hour+time.Duration(i)*time.Second).Unix(), 10),
			"name":      fmt.Sprintf("High load on srv-%03d", i),
			"severity":  "3",
			"r_eventid": "0",
			"hosts":     []map[string]any{{"hostid": strconv.Itoa(i)}},
		})
	}
	return out
}

func fakeHistory(filter map[string]bool) []map[string]any {
	var out []map[string]any
	now := time.Now().Truncate(time.Minute)
	for itemID := range filter {
		for m := range 10 {
			out = append(out, map[string]any{
				"itemid": itemID,
				"clock":  strconv.FormatInt(now.Add(-time.Duration(m)*time.Minute).Unix(), 10),
				"ns":     "0",
				"value":  fmt.Sprintf("0.%02d", now.Add(-time.Duration(m)*time.Minute).Minute()),
			})
		}
	}
	return out
}

func fakeAlerts(filter map[string]bool, base time.Time) []map[string]any {
	var out []map[string]any
	for i := 1; i <= hostsPerTenant; i++ {
		problemID := strconv.Itoa(i * 2)
		if filter != nil && !filter[problemID] {
			continue
		}
		out = append(out, map[string]any{
			"alertid": strconv.Itoa(100000 + i),
			"eventid": problemID,
			"clock":   strconv.FormatInt(base.Add(time.Duration(i)*time.Second+time.Minute).Unix(), 10),
			"sendto":  "oncall@example.com",
			"subject": fmt.Sprintf("Problem: High load on srv-%03d", i),
			"message": "Trigger fired",
			"status":  "1",
		})
	}
	return out
}
