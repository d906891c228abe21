package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"llmgateway/config"
	"llmgateway/internal/core"
)

// availabilityTimeout bounds the startup probe of providers that implement
// core.AvailabilityChecker.
const availabilityTimeout = 5 * time.Second

// Init resolves configured providers, builds them with factory and registers
// them in name order. Providers that fail to build, or fail their availability
// probe, are logged and skipped. Zero usable providers is an error.
func Init(ctx context.Context, cfg *config.Config, factory *Factory) (*Registry, error) {
	if factory == nil {
		return nil, fmt.Errorf("provider factory is required")
	}

	resolved := resolveProviders(cfg)
	names := make([]string, 0, len(resolved))
	for name := range resolved {
		names = append(names, name)
	}
	sort.Strings(names)

	registry := NewRegistry()
	for _, name := range names {
		pCfg := resolved[name]
		p, err := factory.Create(name, pCfg)
		if err != nil {
			slog.Error("failed to initialize provider", "name", name, "type", pCfg.Type, "error", err)
			continue
		}

		if checker, ok := p.(core.AvailabilityChecker); ok {
			checkCtx, cancel := context.WithTimeout(ctx, availabilityTimeout)
			err := checker.CheckAvailability(checkCtx)
			cancel()
			if err != nil {
				slog.Warn("provider unavailable, skipping", "name", name, "type", pCfg.Type, "error", err)
				continue
			}
		}

		if err := registry.Register(name, p); err != nil {
			return nil, err
		}
		slog.Info("provider initialized", "name", name, "type", pCfg.Type, "streaming", p.SupportsStreaming())
	}

	if registry.Len() == 0 {
		return nil, fmt.Errorf("no providers were successfully initialized")
	}
	return registry, nil
}
