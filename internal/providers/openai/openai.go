// Package openai provides OpenAI API integration for the LLM gateway.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"llmgateway/internal/core"
	"llmgateway/internal/llmclient"
	"llmgateway/internal/providers"
	"llmgateway/internal/sse"
)

// Registration provides factory registration for the OpenAI provider.
var Registration = providers.Registration{
	Type: "openai",
	New:  New,
}

const (
	defaultBaseURL = "https://api.openai.com/v1"
)

// CompatibleOptions describes an OpenAI-compatible vendor.
type CompatibleOptions struct {
	DefaultName    string
	DefaultBaseURL string
	// StreamUsage requests a trailing usage event via stream_options.
	StreamUsage bool
}

// Provider implements core.Provider for OpenAI and OpenAI-compatible APIs.
type Provider struct {
	name        string
	client      *llmclient.Client
	apiKey      string
	streamUsage bool
}

// New creates a new OpenAI provider.
func New(cfg providers.AdapterConfig, opts providers.ProviderOptions) core.Provider {
	return NewCompatible(cfg, opts, CompatibleOptions{
		DefaultName:    "openai",
		DefaultBaseURL: defaultBaseURL,
		StreamUsage:    true,
	})
}

// NewCompatible creates a provider for any vendor exposing the OpenAI chat API.
func NewCompatible(cfg providers.AdapterConfig, opts providers.ProviderOptions, compat CompatibleOptions) *Provider {
	if opts.Name == "" {
		opts.Name = compat.DefaultName
	}
	p := &Provider{
		name:        opts.Name,
		apiKey:      cfg.APIKey,
		streamUsage: compat.StreamUsage,
	}
	p.client = providers.NewClient(cfg, opts, compat.DefaultBaseURL, p.setHeaders)
	return p
}

// Name returns the registry name of this provider.
func (p *Provider) Name() string { return p.name }

// SupportsStreaming reports that chat completions can be streamed.
func (p *Provider) SupportsStreaming() bool { return true }

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// setHeaders sets the required headers for OpenAI API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	// OpenAI rejects X-Client-Request-Id values that are not ASCII or exceed 512 bytes.
	if requestID := core.GetRequestID(req.Context()); requestID != "" && isValidClientRequestID(requestID) {
		req.Header.Set("X-Client-Request-Id", requestID)
	}
}

// isValidClientRequestID checks if the request ID is valid for OpenAI's X-Client-Request-Id header.
func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

// isOSeriesModel reports whether the model is an o-series reasoning model
// (o1, o3, o4...), which takes max_completion_tokens and rejects temperature.
func isOSeriesModel(model string) bool {
	m := strings.ToLower(model)
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model               string         `json:"model"`
	Messages            []chatMessage  `json:"messages"`
	Temperature         *float64       `json:"temperature,omitempty"`
	MaxTokens           *int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int           `json:"max_completion_tokens,omitempty"`
	Stream              bool           `json:"stream,omitempty"`
	StreamOptions       *streamOptions `json:"stream_options,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// buildRequest converts the canonical request into the wire body.
func (p *Provider) buildRequest(req *core.ChatRequest, stream bool) (*chatRequest, error) {
	body := &chatRequest{
		Model:    req.Model,
		Messages: make([]chatMessage, 0, len(req.Messages)),
		Stream:   stream,
	}
	for _, m := range req.Messages {
		role, err := providers.OpenAIRoles.ToVendor(m.Role)
		if err != nil {
			return nil, core.NewInvalidRequestError("messages", err.Error())
		}
		body.Messages = append(body.Messages, chatMessage{Role: role, Content: m.Content})
	}

	if isOSeriesModel(req.Model) {
		body.MaxCompletionTokens = req.MaxTokens
	} else {
		body.Temperature = req.Temperature
		body.MaxTokens = req.MaxTokens
	}
	if stream && p.streamUsage {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return body, nil
}

// ChatCompletion sends a chat completion request
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	body, err := p.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	err = p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: response contained no choices", p.name)
	}
	if v := resp.Choices[0].Message.Role; v != "" {
		if role, err := providers.OpenAIRoles.FromVendor(v); err != nil || role != core.RoleAssistant {
			return nil, fmt.Errorf("%s: unexpected reply role %q", p.name, v)
		}
	}

	out := &core.ChatResponse{
		Content:  resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: p.name,
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if resp.Usage != nil {
		out.TokensUsed = core.IntPtr(resp.Usage.TotalTokens)
	}
	return out, nil
}

// StreamChatCompletion opens an SSE stream of content deltas (caller must close)
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (core.DeltaStream, error) {
	body, err := p.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	stream, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     body,
	})
	if err != nil {
		return nil, err
	}
	return providers.NewSSEStream(stream, p.decodeEvent()), nil
}

// decodeEvent returns a per-stream decoder. The usage event, when requested,
// arrives just before [DONE] and is folded into the final delta.
func (p *Provider) decodeEvent() providers.SSEDecoder {
	var tokens *int
	return func(ev sse.Event) (core.Delta, bool, error) {
		if ev.Data == "[DONE]" {
			return core.Delta{Done: true, TokensUsed: tokens}, true, nil
		}
		if !gjson.Valid(ev.Data) {
			return core.Delta{}, false, fmt.Errorf("%s: malformed stream event", p.name)
		}

		event := gjson.Parse(ev.Data)
		if event.Get("error").Exists() {
			return core.Delta{}, false, &core.UpstreamError{
				Provider:   p.name,
				StatusCode: http.StatusBadGateway,
				Body:       []byte(ev.Data),
			}
		}
		if total := event.Get("usage.total_tokens"); total.Exists() {
			n := int(total.Int())
			tokens = &n
		}

		text := event.Get("choices.0.delta.content").String()
		return core.Delta{Text: text}, text != "", nil
	}
}

// ListModels retrieves the list of available models
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	var resp modelsResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
	}, &resp)
	if err != nil {
		return nil, err
	}

	models := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		if m.ID != "" {
			models = append(models, m.ID)
		}
	}
	return models, nil
}
