package catalog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/pricekeeper/internal/policy"
	"github.com/solatis/pricekeeper/internal/types"
)

type cacheEntry struct {
	policies  []types.CommercialPolicy
	expiresAt time.Time
}

// Cache keeps each company's policies from a slower source for a TTL.
// When a refresh fails the last known set is served, so a device that lost
// connectivity keeps resolving against the policies it last saw.
type Cache struct {
	source policy.Source
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu    sync.RWMutex
	items map[int64]cacheEntry
}

// NewCache wraps source with a per-company TTL cache.
func NewCache(source policy.Source, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
		items:  make(map[int64]cacheEntry),
	}
}

// LoadActivePolicies returns the cached set while fresh, otherwise refreshes it.
func (c *Cache) LoadActivePolicies(ctx context.Context, companyID int64) ([]types.CommercialPolicy, error) {
	c.mu.RLock()
	e, ok := c.items[companyID]
	c.mu.RUnlock()

	if ok && c.now().Before(e.expiresAt) {
		return e.policies, nil
	}

	policies, err := c.source.LoadActivePolicies(ctx, companyID)
	if err != nil {
		if ok {
			c.logger.Warn("policy refresh failed, serving stale set",
				zap.Int64("company_id", companyID),
				zap.Time("expired_at", e.expiresAt),
				zap.Error(err),
			)
			return e.policies, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.items[companyID] = cacheEntry{policies: policies, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return policies, nil
}

// Invalidate drops one company's cached set.
func (c *Cache) Invalidate(companyID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, companyID)
}

// InvalidateAll drops every cached set.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[int64]cacheEntry)
}
