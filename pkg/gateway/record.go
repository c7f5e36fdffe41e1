package gateway

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Record is one raw remote object as decoded from the wire.
type Record map[string]any

func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func (r Record) Int(key string) int {
	n, err := strconv.Atoi(r.String(key))
	if err != nil {
		return 0
	}
	return n
}

func (r Record) Int64(key string) int64 {
	n, err := strconv.ParseInt(r.String(key), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Flag reads the remote "0"/"1" convention.
func (r Record) Flag(key string) bool {
	return r.String(key) == "1"
}

// Time reads an epoch-seconds field. Zero or missing values return nil.
func (r Record) Time(key string) *time.Time {
	secs := r.Int64(key)
	if secs <= 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}

// Objects reads a nested list of objects, e.g. a trigger's items.
func (r Record) Objects(key string) []Record {
	var list []any
	switch v := r[key].(type) {
	case []any:
		list = v
	case []Record:
		return v
	case []map[string]any:
		out := make([]Record, 0, len(v))
		for _, obj := range v {
			out = append(out, Record(obj))
		}
		return out
	default:
		return nil
	}
	out := make([]Record, 0, len(list))
	for _, entry := range list {
		switch obj := entry.(type) {
		case map[string]any:
			out = append(out, Record(obj))
		case Record:
			out = append(out, obj)
		}
	}
	return out
}

// NestedIDs collects field from every object under key, skipping blanks.
func (r Record) NestedIDs(key string, field string) []string {
	objects := r.Objects(key)
	ids := make([]string, 0, len(objects))
	for _, obj := range objects {
		if id := obj.String(field); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r Record) ExternalID(kind Kind) string {
	return r.String(kind.IDField())
}

// Payload encodes the record for storage. Map keys are emitted sorted so the
// same record always encodes to the same bytes.
func (r Record) Payload() ([]byte, error) {
	b, err := json.Marshal(map[string]any(r))
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
