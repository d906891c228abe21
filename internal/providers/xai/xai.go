// Package xai provides xAI (Grok) API integration for the LLM gateway.
package xai

import (
	"llmgateway/internal/core"
	"llmgateway/internal/providers"
	"llmgateway/internal/providers/openai"
)

// Registration provides factory registration for the xAI provider.
var Registration = providers.Registration{
	Type: "xai",
	New:  New,
}

const (
	defaultBaseURL = "https://api.x.ai/v1"
)

// New creates an xAI provider on top of the OpenAI-compatible adapter.
func New(cfg providers.AdapterConfig, opts providers.ProviderOptions) core.Provider {
	return openai.NewCompatible(cfg, opts, openai.CompatibleOptions{
		DefaultName:    "xai",
		DefaultBaseURL: defaultBaseURL,
		StreamUsage:    true,
	})
}
