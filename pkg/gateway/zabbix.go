package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/metrics"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

const zabbixEndpoint = "api_jsonrpc.php"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
	Auth    string `json:"auth,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("%s %s", e.Message, e.Data)
}

// session errors are answered by logging in again once
func (e *rpcError) sessionExpired() bool {
	text := strings.ToLower(e.Message + " " + e.Data)
	return strings.Contains(text, "re-login") ||
		strings.Contains(text, "session terminated") ||
		strings.Contains(text, "not authorised") ||
		strings.Contains(text, "not authorized")
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int64           `json:"id"`
}

type ZabbixOptions struct {
	Timeout     time.Duration
	Connections ConnectionSource
	Limiters    LimiterSource
	Breakers    *BreakerRegistry
}

// ZabbixGateway lists resources over the Zabbix JSON-RPC API. Each tenant has
// its own endpoint, credentials, session token, limiter and breaker.
type ZabbixGateway struct {
	client      *resty.Client
	connections ConnectionSource
	limiters    LimiterSource
	breakers    *BreakerRegistry

	seq      atomic.Int64
	mu       sync.Mutex
	sessions map[string]string
}

func NewZabbixGateway(opts ZabbixOptions) *ZabbixGateway {
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("Content-Type", "application/json-rpc")

	return &ZabbixGateway{
		client:      client,
		connections: opts.Connections,
		limiters:    opts.Limiters,
		breakers:    opts.Breakers,
		sessions:    make(map[string]string),
	}
}

func endpointURL(baseURL string) string {
	if strings.HasSuffix(baseURL, ".php") {
		return baseURL
	}
	return strings.TrimRight(baseURL, "/") + "/" + zabbixEndpoint
}

func sessionKey(conn models.TenantConnection) string {
	return conn.TenantID + "|" + conn.BaseURL + "|" + conn.Username
}

func (g *ZabbixGateway) List(ctx context.Context, tenantID string, kind Kind, params Params) (Page, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameGateway,
		zap.String(common.LoggerFieldTenant, tenantID),
		zap.String(common.LoggerFieldKind, string(kind)),
	)

	method, rpcParams, err := buildRequest(kind, params)
	if err != nil {
		return Page{}, &RemoteFetchError{Kind: kind, TenantID: tenantID, Err: err}
	}

	conn, err := g.connections.Connection(ctx, tenantID)
	if err != nil {
		return Page{}, &RemoteFetchError{Kind: kind, TenantID: tenantID, Detail: "resolve connection", Err: err}
	}

	if g.limiters != nil {
		if limiter := g.limiters.GetLimiter(tenantID); limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return Page{}, &RemoteFetchError{Kind: kind, TenantID: tenantID, Detail: "rate limiter", Err: err}
			}
		}
	}

	started := time.Now()
	call := func() (Page, error) {
		return g.fetchPage(ctx, conn, kind, method, rpcParams, params)
	}

	var page Page
	if g.breakers != nil {
		page, err = g.breakers.Get(tenantID).Execute(call)
	} else {
		page, err = call()
	}
	metrics.RemoteRequestDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())

	if err != nil {
		var fetchErr *RemoteFetchError
		switch {
		case isBreakerRejection(err):
			metrics.RemoteRequestsTotal.WithLabelValues(string(kind), "rejected").Inc()
			fetchErr = &RemoteFetchError{Kind: kind, TenantID: tenantID, Detail: "circuit open", Err: err}
		case errors.As(err, &fetchErr):
			metrics.RemoteRequestsTotal.WithLabelValues(string(kind), "failure").Inc()
		default:
			metrics.RemoteRequestsTotal.WithLabelValues(string(kind), "failure").Inc()
			fetchErr = &RemoteFetchError{Kind: kind, TenantID: tenantID, Err: err}
		}
		logger.Warn("Remote list failed", zap.Error(fetchErr))
		return Page{}, fetchErr
	}

	metrics.RemoteRequestsTotal.WithLabelValues(string(kind), "success").Inc()
	logger.Debug("Remote list page fetched",
		zap.Int("offset", params.Offset),
		zap.Int("records", len(page.Records)),
	)
	return page, nil
}

// fetchPage returns the whole result of one scoped query and reports its size
// as the total, so a caller walking pages stops after the first one. The API
// has no offset; a page past the start is answered empty without a call.
func (g *ZabbixGateway) fetchPage(
	ctx context.Context,
	conn models.TenantConnection,
	kind Kind,
	method string,
	rpcParams map[string]any,
	params Params,
) (Page, error) {
	if params.Offset > 0 {
		return Page{Total: 0}, nil
	}

	raw, err := g.authorizedCall(ctx, conn, kind, method, rpcParams)
	if err != nil {
		return Page{}, err
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return Page{}, &RemoteFetchError{Kind: kind, TenantID: conn.TenantID, Detail: "decode result", Err: err}
	}
	return Page{Records: records, Total: len(records)}, nil
}

func (g *ZabbixGateway) authorizedCall(
	ctx context.Context,
	conn models.TenantConnection,
	kind Kind,
	method string,
	params any,
) (json.RawMessage, error) {
	token, err := g.session(ctx, conn, kind, false)
	if err != nil {
		return nil, err
	}

	raw, err := g.call(ctx, conn, kind, method, params, token)
	var rpcErr *rpcError
	if err != nil && errors.As(err, &rpcErr) && rpcErr.sessionExpired() {
		if token, err = g.session(ctx, conn, kind, true); err != nil {
			return nil, err
		}
		raw, err = g.call(ctx, conn, kind, method, params, token)
	}
	return raw, err
}

func (g *ZabbixGateway) session(ctx context.Context, conn models.TenantConnection, kind Kind, renew bool) (string, error) {
	key := sessionKey(conn)

	g.mu.Lock()
	token, ok := g.sessions[key]
	g.mu.Unlock()
	if ok && !renew {
		return token, nil
	}

	raw, err := g.call(ctx, conn, kind, "user.login", map[string]any{
		"username": conn.Username,
		"password": conn.Password,
	}, "")
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", &RemoteFetchError{Kind: kind, TenantID: conn.TenantID, Detail: "decode login token", Err: err}
	}

	g.mu.Lock()
	g.sessions[key] = token
	g.mu.Unlock()

	common.GetLoggerWith(common.LoggerNameGateway, zap.String(common.LoggerFieldTenant, conn.TenantID)).
		Info("Remote session established", zap.Bool("renewed", renew))
	return token, nil
}

func (g *ZabbixGateway) call(
	ctx context.Context,
	conn models.TenantConnection,
	kind Kind,
	method string,
	params any,
	token string,
) (json.RawMessage, error) {
	var out rpcResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(rpcRequest{
			JSONRPC: "2.0",
			Method:  method,
			Params:  params,
			ID:      g.seq.Add(1),
			Auth:    token,
		}).
		SetResult(&out).
		Post(endpointURL(conn.BaseURL))
	if err != nil {
		return nil, &RemoteFetchError{Kind: kind, TenantID: conn.TenantID, Detail: method, Err: err}
	}
	if resp.IsError() {
		return nil, &RemoteFetchError{
			Kind:     kind,
			TenantID: conn.TenantID,
			Status:   resp.StatusCode(),
			Detail:   fmt.Sprintf("%s: %s", method, strings.TrimSpace(resp.String())),
		}
	}
	if out.Error != nil {
		return nil, &RemoteFetchError{
			Kind:     kind,
			TenantID: conn.TenantID,
			Status:   out.Error.Code,
			Detail:   method,
			Err:      out.Error,
		}
	}
	return out.Result, nil
}

func buildRequest(kind Kind, p Params) (string, map[string]any, error) {
	params := map[string]any{"sortorder": "ASC"}
	if len(p.Filter) > 0 {
		params["filter"] = p.Filter
	}

	var method string
	switch kind {
	case KindHostGroup:
		method = "hostgroup.get"
		params["output"] = []string{"groupid", "name"}
		params["sortfield"] = "groupid"
		setIDs(params, "groupids", p.IDs)
	case KindHost:
		method = "host.get"
		params["output"] = []string{"hostid", "host", "name", "status"}
		params["selectHostGroups"] = []string{"groupid", "name"}
		params["sortfield"] = "hostid"
		setIDs(params, "hostids", p.IDs)
	case KindItem:
		method = "item.get"
		params["output"] = []string{"itemid", "hostid", "name", "key_", "value_type", "units", "lastvalue", "lastclock", "status"}
		params["webitems"] = true
		params["sortfield"] = "itemid"
		setIDs(params, "hostids", p.IDs)
	case KindTrigger:
		method = "trigger.get"
		params["output"] = []string{"triggerid", "description", "expression", "priority", "status", "value", "lastchange"}
		params["selectItems"] = []string{"itemid"}
		params["selectHosts"] = []string{"hostid"}
		params["expandDescription"] = true
		params["sortfield"] = "triggerid"
		setIDs(params, "hostids", p.IDs)
		if !p.ChangedSince.IsZero() {
			params["lastChangeSince"] = p.ChangedSince.Unix()
		}
	case KindEvent:
		method = "event.get"
		params["output"] = "extend"
		params["source"] = 0
		params["object"] = 0
		params["selectHosts"] = []string{"hostid"}
		params["sortfield"] = []string{"clock", "eventid"}
		setIDs(params, "objectids", p.IDs)
		setWindow(params, p)
	case KindHistory:
		method = "history.get"
		params["output"] = "extend"
		params["history"] = p.ValueType
		params["sortfield"] = []string{"clock"}
		setIDs(params, "itemids", p.IDs)
		setWindow(params, p)
	case KindAlert:
		method = "alert.get"
		params["output"] = "extend"
		params["sortfield"] = []string{"clock", "alertid"}
		setIDs(params, "eventids", p.IDs)
		setWindow(params, p)
	case KindProblem:
		method = "problem.get"
		params["output"] = "extend"
		params["source"] = 0
		params["object"] = 0
		params["recent"] = true
		params["sortfield"] = []string{"eventid"}
		setIDs(params, "objectids", p.IDs)
		setWindow(params, p)
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return method, params, nil
}

func setIDs(params map[string]any, field string, ids []string) {
	if len(ids) > 0 {
		params[field] = ids
	}
}

func setWindow(params map[string]any, p Params) {
	if !p.ChangedSince.IsZero() {
		params["time_from"] = p.ChangedSince.Unix()
	}
	if !p.Until.IsZero() {
		params["time_till"] = p.Until.Unix()
	}
}
