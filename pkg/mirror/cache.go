package mirror

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"gorm.io/gorm"
	"liyu1981.xyz/monitoring-mirror-service/pkg/gateway"
	"liyu1981.xyz/monitoring-mirror-service/pkg/metrics"
)

// IndexCache maps (tenant, kind) to the external id -> local id index used to
// resolve parent references. Entries are loaded through the caller's
// transaction and dropped whenever a reconcile creates rows of that kind.
// Other processes may write the same store, so a pipeline run drops the
// tenant's entries when it starts and after every stage that fetched rows.
type IndexCache struct {
	cache *ristretto.Cache[string, map[string]uint]
	ttl   time.Duration
}

func NewIndexCache(maxCost int64, ttl time.Duration) (*IndexCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, map[string]uint]{
		NumCounters:        10_000,
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}
	return &IndexCache{cache: cache, ttl: ttl}, nil
}

func indexTable(kind gateway.Kind) (string, error) {
	switch kind {
	case gateway.KindHostGroup:
		return "host_groups", nil
	case gateway.KindHost:
		return "hosts", nil
	case gateway.KindItem:
		return "monitored_items", nil
	case gateway.KindTrigger:
		return "triggers", nil
	case gateway.KindEvent:
		return "events", nil
	default:
		return "", ErrUnsupportedKind
	}
}

func indexKey(tenantID string, kind gateway.Kind) string {
	return tenantID + "|" + string(kind)
}

// Lookup returns the index for (tenantID, kind). The returned map is shared
// and must not be modified. A nil cache always reads through.
func (c *IndexCache) Lookup(tx *gorm.DB, tenantID string, kind gateway.Kind) (map[string]uint, error) {
	key := indexKey(tenantID, kind)
	if c != nil {
		if index, ok := c.cache.Get(key); ok {
			metrics.IndexCacheLookups.WithLabelValues("hit").Inc()
			return index, nil
		}
		metrics.IndexCacheLookups.WithLabelValues("miss").Inc()
	}

	table, err := indexTable(kind)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID         uint
		ExternalID string
	}
	if err := tx.Table(table).Select("id, external_id").Where("tenant_id = ?", tenantID).Find(&rows).Error; err != nil {
		return nil, err
	}

	index := make(map[string]uint, len(rows))
	for _, row := range rows {
		index[row.ExternalID] = row.ID
	}

	if c != nil {
		c.cache.SetWithTTL(key, index, int64(len(index))+1, c.ttl)
		c.cache.Wait()
	}
	return index, nil
}

func (c *IndexCache) Invalidate(tenantID string, kinds ...gateway.Kind) {
	if c == nil {
		return
	}
	for _, kind := range kinds {
		c.cache.Del(indexKey(tenantID, kind))
	}
}

var indexedKinds = []gateway.Kind{
	gateway.KindHostGroup,
	gateway.KindHost,
	gateway.KindItem,
	gateway.KindTrigger,
	gateway.KindEvent,
}

// InvalidateTenant drops every index held for tenantID.
func (c *IndexCache) InvalidateTenant(tenantID string) {
	c.Invalidate(tenantID, indexedKinds...)
}

func (c *IndexCache) Close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
