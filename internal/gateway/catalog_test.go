package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgateway/internal/cache"
)

// memoryCache is an in-process cache.Cache.
type memoryCache struct {
	mu       sync.Mutex
	snapshot *cache.CatalogSnapshot
	sets     int
	getErr   error
}

func (m *memoryCache) Get(_ context.Context) (*cache.CatalogSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.snapshot, nil
}

func (m *memoryCache) Set(_ context.Context, s *cache.CatalogSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = s
	m.sets++
	return nil
}

func (m *memoryCache) Close() error { return nil }

func TestCachedCatalog_ServesFromCache(t *testing.T) {
	openai := &fakeProvider{name: "openai", models: []string{"gpt-4o"}}
	store := &memoryCache{}
	catalog := NewCachedCatalog(NewAggregator(newFakeSource(openai), time.Second, nil), store, time.Minute)

	first := catalog.Aggregate(context.Background())
	second := catalog.Aggregate(context.Background())

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), openai.listCalls.Load())
	assert.Equal(t, 1, store.sets)
}

func TestCachedCatalog_DoesNotStorePartialResults(t *testing.T) {
	down := &fakeProvider{name: "down", modelsErr: errors.New("boom")}
	store := &memoryCache{}
	catalog := NewCachedCatalog(NewAggregator(newFakeSource(down), time.Second, nil), store, time.Minute)

	got := catalog.Aggregate(context.Background())
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Models)
	assert.Equal(t, 0, store.sets)

	catalog.Aggregate(context.Background())
	assert.Equal(t, int32(2), down.listCalls.Load())
}

func TestCachedCatalog_ProviderSetChangeInvalidates(t *testing.T) {
	store := &memoryCache{}
	store.snapshot = cache.NewSnapshot(providerFingerprint([]string{"groq"}), nil)

	openai := &fakeProvider{name: "openai", models: []string{"gpt-4o"}}
	catalog := NewCachedCatalog(NewAggregator(newFakeSource(openai), time.Second, nil), store, time.Minute)

	got := catalog.Aggregate(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "openai", got[0].Name)
	assert.Equal(t, int32(1), openai.listCalls.Load())
}

func TestCachedCatalog_CacheReadErrorFallsBack(t *testing.T) {
	openai := &fakeProvider{name: "openai", models: []string{"gpt-4o"}}
	store := &memoryCache{getErr: errors.New("redis down")}
	catalog := NewCachedCatalog(NewAggregator(newFakeSource(openai), time.Second, nil), store, time.Minute)

	got := catalog.Aggregate(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, []string{"gpt-4o"}, got[0].Models)
}

func TestProviderFingerprint(t *testing.T) {
	assert.Equal(t, providerFingerprint([]string{"a", "b"}), providerFingerprint([]string{"a", "b"}))
	assert.NotEqual(t, providerFingerprint([]string{"a", "b"}), providerFingerprint([]string{"b", "a"}))
	assert.NotEqual(t, providerFingerprint([]string{"ab"}), providerFingerprint([]string{"a", "b"}))
}
