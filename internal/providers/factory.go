package providers

import (
	"fmt"
	"net/http"
	"sort"

	"llmgateway/internal/core"
	"llmgateway/internal/llmclient"
)

// ProviderOptions carries the per-instance settings every adapter constructor receives.
type ProviderOptions struct {
	// Name is the registry key; adapters report it from Name().
	Name       string
	Hooks      llmclient.Hooks
	HTTPClient *http.Client
}

// Registration ties a provider type to its constructor.
type Registration struct {
	Type string
	New  func(cfg AdapterConfig, opts ProviderOptions) core.Provider
}

// Factory builds adapters by provider type.
type Factory struct {
	builders   map[string]Registration
	hooks      llmclient.Hooks
	httpClient *http.Client
}

// NewFactory creates a factory with no registered types.
func NewFactory() *Factory {
	return &Factory{builders: make(map[string]Registration)}
}

// Add registers a provider type. Adding the same type twice replaces it.
func (f *Factory) Add(reg Registration) {
	f.builders[reg.Type] = reg
}

// SetHooks sets the observability hooks passed to every adapter built afterwards.
func (f *Factory) SetHooks(hooks llmclient.Hooks) {
	f.hooks = hooks
}

// SetHTTPClient overrides the outbound client shared by adapters.
func (f *Factory) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}

// Create instantiates the adapter for cfg.Type under the given registry name.
func (f *Factory) Create(name string, cfg AdapterConfig) (core.Provider, error) {
	reg, ok := f.builders[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
	p := reg.New(cfg, ProviderOptions{
		Name:       name,
		Hooks:      f.hooks,
		HTTPClient: f.httpClient,
	})
	if p == nil {
		return nil, fmt.Errorf("provider %q: constructor returned nil", name)
	}
	return p, nil
}

// Types returns the registered provider types, sorted.
func (f *Factory) Types() []string {
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
