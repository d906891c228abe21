package providers

import (
	"os"
	"strings"
	"time"

	"llmgateway/config"
	"llmgateway/internal/llmclient"
)

// AdapterConfig is the explicit configuration an adapter is constructed with.
type AdapterConfig struct {
	Type           string
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
	Resilience     config.ResilienceConfig
}

// knownProviderEnvs maps well-known provider names to their environment variables.
// This list is the authoritative source for provider auto-discovery from env vars.
var knownProviderEnvs = []struct {
	name         string
	providerType string
	apiKeyEnv    string
	baseURLEnv   string
}{
	{"openai", "openai", "OPENAI_API_KEY", "OPENAI_BASE_URL"},
	{"anthropic", "anthropic", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"},
	{"gemini", "gemini", "GEMINI_API_KEY", "GEMINI_BASE_URL"},
	{"xai", "xai", "XAI_API_KEY", "XAI_BASE_URL"},
	{"groq", "groq", "GROQ_API_KEY", "GROQ_BASE_URL"},
	{"ollama", "ollama", "OLLAMA_API_KEY", "OLLAMA_BASE_URL"},
}

// resolveProviders overlays env vars on the YAML providers, drops entries
// without usable credentials and fills defaults from the global settings.
func resolveProviders(cfg *config.Config) map[string]AdapterConfig {
	merged := applyProviderEnvVars(cfg.Providers)
	filtered := filterEmptyProviders(merged)

	result := make(map[string]AdapterConfig, len(filtered))
	for name, raw := range filtered {
		result[name] = buildAdapterConfig(raw, cfg.Resilience, cfg.Gateway.RequestTimeout)
	}
	return result
}

// applyProviderEnvVars overlays well-known provider env vars onto the raw YAML map.
// Env var values always win over YAML values for the same provider name.
func applyProviderEnvVars(raw map[string]config.RawProviderConfig) map[string]config.RawProviderConfig {
	result := make(map[string]config.RawProviderConfig, len(raw))
	for k, v := range raw {
		result[k] = v
	}

	for _, kp := range knownProviderEnvs {
		apiKey := os.Getenv(kp.apiKeyEnv)
		baseURL := os.Getenv(kp.baseURLEnv)
		if apiKey == "" && baseURL == "" {
			continue
		}

		existing, exists := result[kp.name]
		if !exists {
			existing = config.RawProviderConfig{Type: kp.providerType}
		}
		if apiKey != "" {
			existing.APIKey = apiKey
		}
		if baseURL != "" {
			existing.BaseURL = baseURL
		}
		result[kp.name] = existing
	}

	return result
}

// filterEmptyProviders removes providers without valid credentials.
// Ollama needs no API key, only a base URL.
func filterEmptyProviders(raw map[string]config.RawProviderConfig) map[string]config.RawProviderConfig {
	result := make(map[string]config.RawProviderConfig, len(raw))
	for name, p := range raw {
		if p.Type == "ollama" {
			if p.BaseURL != "" && !strings.Contains(p.BaseURL, "${") {
				result[name] = p
			}
			continue
		}
		if p.APIKey != "" && !strings.Contains(p.APIKey, "${") {
			result[name] = p
		}
	}
	return result
}

// buildAdapterConfig merges a raw provider entry with the global defaults.
// Non-nil fields in the raw config override the global values.
func buildAdapterConfig(raw config.RawProviderConfig, global config.ResilienceConfig, timeout time.Duration) AdapterConfig {
	resolved := AdapterConfig{
		Type:           raw.Type,
		APIKey:         raw.APIKey,
		BaseURL:        raw.BaseURL,
		RequestTimeout: timeout,
		Resilience:     global,
	}
	if raw.RequestTimeout != nil && *raw.RequestTimeout > 0 {
		resolved.RequestTimeout = *raw.RequestTimeout
	}
	if raw.Resilience == nil {
		return resolved
	}

	if r := raw.Resilience.Retry; r != nil {
		if r.MaxRetries != nil {
			resolved.Resilience.Retry.MaxRetries = *r.MaxRetries
		}
		if r.InitialBackoff != nil {
			resolved.Resilience.Retry.InitialBackoff = *r.InitialBackoff
		}
		if r.MaxBackoff != nil {
			resolved.Resilience.Retry.MaxBackoff = *r.MaxBackoff
		}
		if r.BackoffFactor != nil {
			resolved.Resilience.Retry.BackoffFactor = *r.BackoffFactor
		}
	}
	if cb := raw.Resilience.CircuitBreaker; cb != nil {
		if cb.Enabled != nil {
			resolved.Resilience.CircuitBreaker.Enabled = *cb.Enabled
		}
		if cb.FailureThreshold != nil {
			resolved.Resilience.CircuitBreaker.FailureThreshold = *cb.FailureThreshold
		}
		if cb.SuccessThreshold != nil {
			resolved.Resilience.CircuitBreaker.SuccessThreshold = *cb.SuccessThreshold
		}
		if cb.Timeout != nil {
			resolved.Resilience.CircuitBreaker.Timeout = *cb.Timeout
		}
	}

	return resolved
}

// ClientConfig turns an adapter configuration into the llmclient settings.
// defaultBaseURL is used when cfg carries no override.
func ClientConfig(cfg AdapterConfig, opts ProviderOptions, defaultBaseURL string) llmclient.Config {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	out := llmclient.DefaultConfig(opts.Name, baseURL)
	out.Hooks = opts.Hooks
	if cfg.RequestTimeout > 0 {
		out.RequestTimeout = cfg.RequestTimeout
	}

	r := cfg.Resilience.Retry
	out.Retry = llmclient.RetryConfig{
		MaxRetries:     r.MaxRetries,
		InitialBackoff: r.InitialBackoff,
		MaxBackoff:     r.MaxBackoff,
		BackoffFactor:  r.BackoffFactor,
	}

	cb := cfg.Resilience.CircuitBreaker
	if cb.Enabled {
		out.CircuitBreaker = &llmclient.CircuitBreakerConfig{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			Timeout:          cb.Timeout,
		}
	} else {
		out.CircuitBreaker = nil
	}
	return out
}

// NewClient builds the llmclient for an adapter.
func NewClient(cfg AdapterConfig, opts ProviderOptions, defaultBaseURL string, headers llmclient.HeaderSetter) *llmclient.Client {
	return llmclient.NewWithHTTPClient(opts.HTTPClient, ClientConfig(cfg, opts, defaultBaseURL), headers)
}
