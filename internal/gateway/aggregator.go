package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"llmgateway/internal/core"
)

// DefaultCatalogTimeout bounds each provider's ListModels call.
const DefaultCatalogTimeout = 10 * time.Second

// ProviderSource enumerates and resolves providers. *providers.Registry satisfies it.
type ProviderSource interface {
	Names() []string
	Resolve(name string) (core.Provider, error)
}

// Aggregator queries every provider's model list concurrently.
type Aggregator struct {
	source   ProviderSource
	timeout  time.Duration
	observer Observer
}

// NewAggregator creates an aggregator with a per-provider timeout
// (DefaultCatalogTimeout when timeout <= 0).
func NewAggregator(source ProviderSource, timeout time.Duration, observer Observer) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultCatalogTimeout
	}
	return &Aggregator{source: source, timeout: timeout, observer: observerOrNop(observer)}
}

// Aggregate returns one descriptor per provider in enumeration order. A
// provider that fails or times out contributes an empty model list.
func (a *Aggregator) Aggregate(ctx context.Context) []core.ProviderDescriptor {
	result, _ := a.aggregate(ctx)
	return result
}

// aggregate also reports how many providers failed.
func (a *Aggregator) aggregate(ctx context.Context) ([]core.ProviderDescriptor, int) {
	names := a.source.Names()
	result := make([]core.ProviderDescriptor, len(names))
	failed := make([]bool, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(idx int, name string) {
			defer wg.Done()
			models, err := a.fetch(ctx, name)
			if err != nil {
				failed[idx] = true
				models = []string{}
			}
			result[idx] = core.ProviderDescriptor{Name: name, Models: models}
		}(i, name)
	}
	wg.Wait()

	count := 0
	for _, f := range failed {
		if f {
			count++
		}
	}
	return result, count
}

type listResult struct {
	models []string
	err    error
}

// fetch runs one provider's ListModels under its own deadline. The call is
// abandoned, not awaited, if the adapter ignores the deadline.
func (a *Aggregator) fetch(ctx context.Context, name string) ([]string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	p, err := a.source.Resolve(name)
	if err != nil {
		a.report(name, start, err)
		return nil, err
	}

	done := make(chan listResult, 1)
	go func() {
		models, err := p.ListModels(ctx)
		done <- listResult{models: models, err: err}
	}()

	var res listResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if res.err != nil {
		res.err = TranslateError(name, res.err)
		a.report(name, start, res.err)
		return nil, res.err
	}
	if res.models == nil {
		res.models = []string{}
	}
	a.report(name, start, nil)
	return res.models, nil
}

func (a *Aggregator) report(name string, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil {
		slog.Warn("model catalog fetch failed", "provider", name, "duration", elapsed, "error", err)
	} else {
		slog.Debug("model catalog fetched", "provider", name, "duration", elapsed)
	}
	a.observer.CatalogFetched(name, elapsed, err)
}
