package gateway

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"llmgateway/internal/cache"
	"llmgateway/internal/core"
)

// Catalog produces the aggregated model catalog.
type Catalog interface {
	Aggregate(ctx context.Context) []core.ProviderDescriptor
}

// CachedCatalog serves aggregated catalogs from a cache.Cache for ttl. Only
// complete aggregations (no failed provider) are stored, so one vendor's
// outage is not pinned into the cache.
type CachedCatalog struct {
	aggregator *Aggregator
	store      cache.Cache
	ttl        time.Duration

	// mu collapses concurrent refreshes into one fan-out.
	mu sync.Mutex
}

// NewCachedCatalog wraps aggregator with store.
func NewCachedCatalog(aggregator *Aggregator, store cache.Cache, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{aggregator: aggregator, store: store, ttl: ttl}
}

// Aggregate returns a fresh cached snapshot when one exists, otherwise aggregates.
func (c *CachedCatalog) Aggregate(ctx context.Context) []core.ProviderDescriptor {
	fingerprint := providerFingerprint(c.aggregator.source.Names())

	if cached := c.lookup(ctx, fingerprint); cached != nil {
		return cached
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if cached := c.lookup(ctx, fingerprint); cached != nil {
		return cached
	}

	result, failed := c.aggregator.aggregate(ctx)
	if failed == 0 {
		if err := c.store.Set(ctx, cache.NewSnapshot(fingerprint, result)); err != nil {
			slog.Warn("failed to store model catalog", "error", err)
		}
	}
	return result
}

func (c *CachedCatalog) lookup(ctx context.Context, fingerprint string) []core.ProviderDescriptor {
	snapshot, err := c.store.Get(ctx)
	if err != nil {
		slog.Warn("failed to read cached model catalog", "error", err)
		return nil
	}
	if !snapshot.Fresh(fingerprint, c.ttl) {
		return nil
	}
	return snapshot.Providers
}

// providerFingerprint hashes the ordered provider names, so adding or removing
// a provider invalidates stored snapshots.
func providerFingerprint(names []string) string {
	sum := xxhash.Sum64String(strings.Join(names, "\x00"))
	return strconv.FormatUint(sum, 16)
}
