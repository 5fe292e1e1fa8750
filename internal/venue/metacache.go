// metacache.go maintains a local, concurrency-safe cache of per-market
// trading parameters (tick size, neg-risk flag, minimum order size) so the
// Executor does not re-fetch market metadata on every replicated trade.
// Entries go stale after a fixed window and are refreshed transparently by
// Client.GetMarket.
package venue

import (
	"sync"
	"time"

	"copytrader/pkg/types"
)

const metaStaleAfter = 10 * time.Minute

type metaEntry struct {
	meta    types.MarketMeta
	fetched time.Time
}

// MetaCache holds the most recently fetched MarketMeta per conditionId.
type MetaCache struct {
	mu      sync.RWMutex
	entries map[string]metaEntry
}

// NewMetaCache creates an empty market metadata cache.
func NewMetaCache() *MetaCache {
	return &MetaCache{entries: make(map[string]metaEntry)}
}

// Get returns the cached metadata for a market, and whether it is still fresh.
func (c *MetaCache) Get(marketID string) (types.MarketMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[marketID]
	if !ok {
		return types.MarketMeta{}, false
	}
	if time.Since(e.fetched) > metaStaleAfter {
		return types.MarketMeta{}, false
	}
	return e.meta, true
}

// Put stores freshly fetched metadata for a market.
func (c *MetaCache) Put(marketID string, meta types.MarketMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[marketID] = metaEntry{meta: meta, fetched: time.Now()}
}
