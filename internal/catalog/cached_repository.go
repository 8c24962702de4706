package catalog

import (
	"context"
	"time"

	"github.com/akkaui/payments/internal/cacheutil"
)

// CachedRepository wraps a Repository with per-entry TTL caching.
// Misses (ErrNotFound) are not cached so newly published entries show up immediately.
type CachedRepository struct {
	underlying Repository
	plans      *cacheutil.TTLCache[string, Plan]
	assets     *cacheutil.TTLCache[string, Asset]
	planList   *cacheutil.TTLCache[struct{}, []Plan]
}

// NewCachedRepository creates a caching wrapper.
func NewCachedRepository(underlying Repository, ttl time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying: underlying,
		plans:      cacheutil.NewTTLCache[string, Plan](ttl),
		assets:     cacheutil.NewTTLCache[string, Asset](ttl),
		planList:   cacheutil.NewTTLCache[struct{}, []Plan](ttl),
	}
}

func (c *CachedRepository) GetPlan(ctx context.Context, code string) (Plan, error) {
	return c.plans.Get(code, func() (Plan, error) {
		return c.underlying.GetPlan(ctx, code)
	})
}

func (c *CachedRepository) GetAsset(ctx context.Context, id string) (Asset, error) {
	return c.assets.Get(id, func() (Asset, error) {
		return c.underlying.GetAsset(ctx, id)
	})
}

func (c *CachedRepository) ListPlans(ctx context.Context) ([]Plan, error) {
	return c.planList.Get(struct{}{}, func() ([]Plan, error) {
		return c.underlying.ListPlans(ctx)
	})
}

// Invalidate drops every cached entry.
func (c *CachedRepository) Invalidate() {
	c.plans.Invalidate()
	c.assets.Invalidate()
	c.planList.Invalidate()
}

func (c *CachedRepository) Close() error {
	return c.underlying.Close()
}
