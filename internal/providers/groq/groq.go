// Package groq provides Groq API integration for the LLM gateway.
package groq

import (
	"llmgateway/internal/core"
	"llmgateway/internal/providers"
	"llmgateway/internal/providers/openai"
)

// Registration provides factory registration for the Groq provider.
var Registration = providers.Registration{
	Type: "groq",
	New:  New,
}

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
)

// New creates a Groq provider. Groq speaks the OpenAI chat API.
func New(cfg providers.AdapterConfig, opts providers.ProviderOptions) core.Provider {
	return openai.NewCompatible(cfg, opts, openai.CompatibleOptions{
		DefaultName:    "groq",
		DefaultBaseURL: defaultBaseURL,
	})
}
