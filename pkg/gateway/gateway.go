package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Kind names a remote resource type.
type Kind string

const (
	KindHostGroup Kind = "hostgroup"
	KindHost      Kind = "host"
	KindItem      Kind = "item"
	KindTrigger   Kind = "trigger"
	KindEvent     Kind = "event"
	KindProblem   Kind = "problem"
	KindHistory   Kind = "history"
	KindAlert     Kind = "alert"
)

// IDField is the record field carrying the remote identifier of a kind.
// History samples have no id of their own and answer with their item.
func (k Kind) IDField() string {
	switch k {
	case KindHostGroup:
		return "groupid"
	case KindHost:
		return "hostid"
	case KindItem:
		return "itemid"
	case KindTrigger:
		return "triggerid"
	case KindEvent, KindProblem:
		return "eventid"
	case KindHistory:
		return "itemid"
	case KindAlert:
		return "alertid"
	default:
		return "id"
	}
}

// Params narrows a List call. IDs scope the call to parent (or own) ids,
// depending on the kind; an empty IDs means unscoped. ChangedSince and Until
// are ignored by kinds the remote cannot filter by time. A gateway that cannot
// page answers the first page with the whole result and reports it as Total.
type Params struct {
	IDs          []string
	ChangedSince time.Time
	Until        time.Time
	Offset       int
	Limit        int
	Filter       map[string]any
	// ValueType selects the history table a KindHistory call reads.
	ValueType int
}

// Page is one page of raw records. Total is the server-reported total for
// the query or -1 when the server does not report one.
type Page struct {
	Records []Record
	Total   int
}

type Gateway interface {
	List(ctx context.Context, tenantID string, kind Kind, params Params) (Page, error)
}

// LimiterSource hands out the per-tenant limiter remote calls wait on.
type LimiterSource interface {
	GetLimiter(tenantID string) *rate.Limiter
}

var (
	ErrNoConnection       = errors.New("no connection configured for tenant")
	ErrConnectionDisabled = errors.New("tenant connection is disabled")
	ErrUnknownKind        = errors.New("unknown resource kind")
)

// RemoteFetchError is a failed remote call. Status is the HTTP status, or the
// JSON-RPC error code when the transport succeeded.
type RemoteFetchError struct {
	Kind     Kind
	TenantID string
	Status   int
	Detail   string
	Err      error
}

func (e *RemoteFetchError) Error() string {
	msg := fmt.Sprintf("remote call failed: list %s for tenant %s", e.Kind, e.TenantID)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}
