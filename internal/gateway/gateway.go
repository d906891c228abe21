// Package gateway dispatches canonical chat requests to provider adapters.
// It owns request normalization, error translation, stream brokering and the
// aggregated model catalog; transport, auth and persistence live elsewhere.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"llmgateway/internal/cache"
	"llmgateway/internal/core"
)

// Options configures a Gateway. The zero value is usable.
type Options struct {
	// CatalogTimeout bounds each provider's ListModels call.
	CatalogTimeout time.Duration
	// CatalogCache, when set, stores aggregated catalogs for CatalogTTL.
	CatalogCache cache.Cache
	CatalogTTL   time.Duration
	Observer     Observer
}

// Gateway is the entry point used by the transport layer. It is safe for
// concurrent use; it holds no per-request state.
type Gateway struct {
	providers ProviderSource
	broker    *Broker
	catalog   Catalog
}

// New creates a gateway over providers.
func New(providers ProviderSource, opts Options) *Gateway {
	aggregator := NewAggregator(providers, opts.CatalogTimeout, opts.Observer)

	var catalog Catalog = aggregator
	if opts.CatalogCache != nil && opts.CatalogTTL > 0 {
		catalog = NewCachedCatalog(aggregator, opts.CatalogCache, opts.CatalogTTL)
	}

	return &Gateway{
		providers: providers,
		broker:    NewBroker(opts.Observer),
		catalog:   catalog,
	}
}

// Chat sends a non-streaming request to the named provider. Every error
// returned is a *core.GatewayError.
func (g *Gateway) Chat(ctx context.Context, provider string, req *core.ChatRequest) (*core.ChatResponse, error) {
	adapter, err := g.providers.Resolve(provider)
	if err != nil {
		return nil, TranslateError(provider, err)
	}

	normalized, err := Normalize(req)
	if err != nil {
		return nil, TranslateError(provider, err)
	}
	normalized.Stream = false

	resp, err := adapter.ChatCompletion(ctx, normalized)
	if err != nil {
		gwErr := TranslateError(provider, err)
		logDispatchError(ctx, provider, normalized.Model, gwErr)
		return nil, gwErr
	}
	if resp.Provider == "" {
		resp.Provider = provider
	}
	return resp, nil
}

// Stream opens a brokered stream to the named provider. The caller must read
// the stream to its terminal signal or Close it. Errors before the first
// chunk are returned here as *core.GatewayError.
func (g *Gateway) Stream(ctx context.Context, provider string, req *core.ChatRequest) (*Stream, error) {
	adapter, err := g.providers.Resolve(provider)
	if err != nil {
		return nil, TranslateError(provider, err)
	}
	if !adapter.SupportsStreaming() {
		return nil, TranslateError(provider, core.ErrStreamingUnsupported)
	}

	normalized, err := Normalize(req)
	if err != nil {
		return nil, TranslateError(provider, err)
	}
	normalized.Stream = true

	src, err := adapter.StreamChatCompletion(ctx, normalized)
	if err != nil {
		gwErr := TranslateError(provider, err)
		logDispatchError(ctx, provider, normalized.Model, gwErr)
		return nil, gwErr
	}
	return g.broker.NewStream(ctx, provider, src), nil
}

// ListModels returns the aggregated catalog in provider enumeration order.
func (g *Gateway) ListModels(ctx context.Context) []core.ProviderDescriptor {
	return g.catalog.Aggregate(ctx)
}

// Providers returns the configured provider names.
func (g *Gateway) Providers() []string {
	return g.providers.Names()
}

func logDispatchError(ctx context.Context, provider, model string, err *core.GatewayError) {
	slog.Warn("provider request failed",
		"provider", provider,
		"model", model,
		"kind", err.Kind,
		"retryable", err.Retryable,
		"request_id", core.GetRequestID(ctx),
		"error", err,
	)
}
