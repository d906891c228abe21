// Package anthropic provides Anthropic API integration for the LLM gateway.
package anthropic

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

// Registration provides factory registration for the Anthropic provider.
var Registration = providers.Registration{
	Type: "anthropic",
	New:  New,
}

const (
	defaultBaseURL      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
	maxTemperature      = 1.0
)

// roles has no system entry: system prompts travel in the top-level field.
var roles = providers.RoleMap{User: "user", Assistant: "assistant"}

// Provider implements the core.Provider interface for Anthropic
type Provider struct {
	name   string
	client *llmclient.Client
	apiKey string
}

// New creates a new Anthropic provider
func New(cfg providers.AdapterConfig, opts providers.ProviderOptions) core.Provider {
	if opts.Name == "" {
		opts.Name = "anthropic"
	}
	p := &Provider{name: opts.Name, apiKey: cfg.APIKey}
	p.client = providers.NewClient(cfg, opts, defaultBaseURL, p.setHeaders)
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

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

// anthropicRequest represents the Anthropic API request format
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// convertRequest lifts system messages into the top-level field, applies the
// default max_tokens and clamps temperature to Anthropic's 0..1 range.
func convertRequest(req *core.ChatRequest, stream bool) (*anthropicRequest, error) {
	out := &anthropicRequest{
		Model:     req.Model,
		Messages:  make([]anthropicMessage, 0, len(req.Messages)),
		MaxTokens: defaultMaxTokens,
		Stream:    stream,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		t := *req.Temperature
		if t > maxTemperature {
			t = maxTemperature
		}
		out.Temperature = &t
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		role, err := roles.ToVendor(msg.Role)
		if err != nil {
			return nil, core.NewInvalidRequestError("messages", err.Error())
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: role, Content: msg.Content})
	}
	out.System = strings.Join(system, "\n\n")
	return out, nil
}

// ChatCompletion sends a chat completion request to Anthropic
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	body, err := convertRequest(req, false)
	if err != nil {
		return nil, err
	}

	var resp anthropicResponse
	err = p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := &core.ChatResponse{
		Content:    text.String(),
		TokensUsed: core.IntPtr(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		Model:      resp.Model,
		Provider:   p.name,
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	return out, nil
}

// StreamChatCompletion opens the messages event stream (caller must close)
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (core.DeltaStream, error) {
	body, err := convertRequest(req, true)
	if err != nil {
		return nil, err
	}

	stream, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     body,
	})
	if err != nil {
		return nil, err
	}
	return providers.NewSSEStream(stream, p.decodeEvent()), nil
}

// decodeEvent handles message_start (input tokens), content_block_delta (text),
// message_delta (output tokens), message_stop (end) and error events.
func (p *Provider) decodeEvent() providers.SSEDecoder {
	var input, output int64
	return func(ev sse.Event) (core.Delta, bool, error) {
		if !gjson.Valid(ev.Data) {
			return core.Delta{}, false, fmt.Errorf("%s: malformed stream event", p.name)
		}
		event := gjson.Parse(ev.Data)

		kind := ev.Name
		if kind == "" {
			kind = event.Get("type").String()
		}

		switch kind {
		case "message_start":
			input = event.Get("message.usage.input_tokens").Int()
		case "content_block_delta":
			if event.Get("delta.type").String() == "text_delta" {
				text := event.Get("delta.text").String()
				return core.Delta{Text: text}, text != "", nil
			}
		case "message_delta":
			if out := event.Get("usage.output_tokens"); out.Exists() {
				output = out.Int()
			}
		case "message_stop":
			return core.Delta{Done: true, TokensUsed: core.IntPtr(int(input + output))}, true, nil
		case "error":
			return core.Delta{}, false, &core.UpstreamError{
				Provider:   p.name,
				StatusCode: statusForErrorType(event.Get("error.type").String()),
				Body:       []byte(ev.Data),
				Message:    event.Get("error.message").String(),
			}
		}
		return core.Delta{}, false, nil
	}
}

// statusForErrorType maps in-stream error types to the HTTP status Anthropic
// uses for the same error on a plain request.
func statusForErrorType(errType string) int {
	switch errType {
	case "invalid_request_error":
		return http.StatusBadRequest
	case "authentication_error":
		return http.StatusUnauthorized
	case "permission_error":
		return http.StatusForbidden
	case "rate_limit_error":
		return http.StatusTooManyRequests
	case "overloaded_error":
		return 529
	default:
		return http.StatusInternalServerError
	}
}

// ListModels retrieves the list of available models from Anthropic
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	var resp modelsResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models?limit=1000",
	}, &resp)
	if err != nil {
		return nil, err
	}

	models := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, m.ID)
	}
	return models, nil
}
