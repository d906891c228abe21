// Package cache persists model catalog snapshots so restarts and sibling
// instances can serve /llm/models without fanning out to every vendor.
// Supports both local file and Redis backends.
package cache

import (
	"context"
	"fmt"
	"time"

	"llmgateway/config"
	"llmgateway/internal/core"
)

// snapshotVersion is bumped when the snapshot layout changes; older entries are ignored.
const snapshotVersion = 1

// CatalogSnapshot is the data that gets stored and retrieved from the cache.
type CatalogSnapshot struct {
	Version int `json:"version"`
	// Fingerprint identifies the provider set the snapshot was built from.
	Fingerprint string                    `json:"fingerprint"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	Providers   []core.ProviderDescriptor `json:"providers"`
}

// NewSnapshot stamps providers with the current layout version and time.
func NewSnapshot(fingerprint string, providers []core.ProviderDescriptor) *CatalogSnapshot {
	return &CatalogSnapshot{
		Version:     snapshotVersion,
		Fingerprint: fingerprint,
		UpdatedAt:   time.Now().UTC(),
		Providers:   providers,
	}
}

// Fresh reports whether the snapshot matches fingerprint and is younger than ttl.
func (s *CatalogSnapshot) Fresh(fingerprint string, ttl time.Duration) bool {
	if s == nil || s.Version != snapshotVersion || s.Fingerprint != fingerprint {
		return false
	}
	return time.Since(s.UpdatedAt) < ttl
}

// Cache defines the interface for catalog snapshot storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the stored snapshot.
	// Returns nil, nil if no cache exists yet.
	Get(ctx context.Context) (*CatalogSnapshot, error)

	// Set stores the snapshot.
	Set(ctx context.Context, snapshot *CatalogSnapshot) error

	// Close releases any resources held by the cache.
	Close() error
}

// New builds the cache selected by cfg.Type. Type "none" (or empty) returns a nil Cache.
func New(cfg config.CatalogCacheConfig) (Cache, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "local":
		return NewLocalCache(cfg.Path), nil
	case "redis":
		return NewRedisCache(RedisConfig{URL: cfg.Redis.URL, Key: cfg.Redis.Key, TTL: cfg.TTL})
	default:
		return nil, fmt.Errorf("unknown catalog cache type: %s", cfg.Type)
	}
}
