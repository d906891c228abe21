// Package ollama provides Ollama API integration for the LLM gateway.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"llmgateway/internal/core"
	"llmgateway/internal/llmclient"
	"llmgateway/internal/providers"
)

// Registration provides factory registration for the Ollama provider.
var Registration = providers.Registration{
	Type: "ollama",
	New:  New,
}

const defaultBaseURL = "http://localhost:11434"

// Provider implements the core.Provider interface for Ollama
type Provider struct {
	name   string
	client *llmclient.Client
	apiKey string // Accepted but ignored by Ollama
}

// New creates a new Ollama provider.
func New(cfg providers.AdapterConfig, opts providers.ProviderOptions) core.Provider {
	if opts.Name == "" {
		opts.Name = "ollama"
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

// CheckAvailability verifies that Ollama is running and accessible.
// Makes a lightweight request to the tags endpoint.
func (p *Provider) CheckAvailability(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.ListModels(ctx)
	return err
}

// setHeaders sets the required headers for Ollama API requests
func (p *Provider) setHeaders(req *http.Request) {
	// Ollama doesn't require authentication, but accepts Bearer token if provided
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	// Forward request ID if present in context
	if requestID := core.GetRequestID(req.Context()); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func convertRequest(req *core.ChatRequest, stream bool) (*chatRequest, error) {
	out := &chatRequest{
		Model:    req.Model,
		Messages: make([]chatMessage, 0, len(req.Messages)),
		Stream:   stream,
	}
	for _, m := range req.Messages {
		role, err := providers.OpenAIRoles.ToVendor(m.Role)
		if err != nil {
			return nil, core.NewInvalidRequestError("messages", err.Error())
		}
		out.Messages = append(out.Messages, chatMessage{Role: role, Content: m.Content})
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		out.Options = &chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	return out, nil
}

// ChatCompletion sends a non-streaming /api/chat request
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	body, err := convertRequest(req, false)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	err = p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/api/chat",
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := &core.ChatResponse{
		Content:  resp.Message.Content,
		Model:    resp.Model,
		Provider: p.name,
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if resp.Done {
		out.TokensUsed = core.IntPtr(resp.PromptEvalCount + resp.EvalCount)
	}
	return out, nil
}

// StreamChatCompletion opens an NDJSON chat stream (caller must close)
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (core.DeltaStream, error) {
	body, err := convertRequest(req, true)
	if err != nil {
		return nil, err
	}

	stream, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/api/chat",
		Body:     body,
	})
	if err != nil {
		return nil, err
	}
	return providers.NewLineStream(stream, p.decodeLine), nil
}

// decodeLine reads one NDJSON object. The object with done=true closes the
// stream and carries the eval counters.
func (p *Provider) decodeLine(line []byte) (core.Delta, bool, error) {
	if !gjson.ValidBytes(line) {
		return core.Delta{}, false, fmt.Errorf("%s: malformed stream line", p.name)
	}
	obj := gjson.ParseBytes(line)

	if e := obj.Get("error"); e.Exists() {
		return core.Delta{}, false, &core.UpstreamError{
			Provider:   p.name,
			StatusCode: http.StatusBadGateway,
			Body:       append([]byte(nil), line...),
			Message:    e.String(),
		}
	}

	delta := core.Delta{Text: obj.Get("message.content").String()}
	if obj.Get("done").Bool() {
		delta.Done = true
		delta.TokensUsed = core.IntPtr(int(obj.Get("prompt_eval_count").Int() + obj.Get("eval_count").Int()))
	}
	return delta, delta.Text != "", nil
}

// ListModels retrieves the locally pulled models from /api/tags
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	var resp tagsResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/api/tags",
	}, &resp)
	if err != nil {
		return nil, err
	}

	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, m.Name)
	}
	return models, nil
}
