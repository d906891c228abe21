// Package gemini provides Google Gemini API integration for the LLM gateway.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"llmgateway/internal/core"
	"llmgateway/internal/llmclient"
	"llmgateway/internal/providers"
	"llmgateway/internal/sse"
)

// Registration provides factory registration for the Gemini provider.
var Registration = providers.Registration{
	Type: "gemini",
	New:  New,
}

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini calls the assistant "model"; system prompts go in systemInstruction.
var roles = providers.RoleMap{User: "user", Assistant: "model"}

// Provider implements the core.Provider interface for Google Gemini
type Provider struct {
	name   string
	client *llmclient.Client
	apiKey string
}

// New creates a new Gemini provider
func New(cfg providers.AdapterConfig, opts providers.ProviderOptions) core.Provider {
	if opts.Name == "" {
		opts.Name = "gemini"
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

// setHeaders sends the key as a header so it never appears in request URLs or logs.
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", p.apiKey)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type modelsResponse struct {
	Models []struct {
		Name             string   `json:"name"`
		SupportedMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
}

func convertRequest(req *core.ChatRequest) (*generateRequest, error) {
	out := &generateRequest{Contents: make([]content, 0, len(req.Messages))}

	var system []part
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			system = append(system, part{Text: msg.Content})
			continue
		}
		role, err := roles.ToVendor(msg.Role)
		if err != nil {
			return nil, core.NewInvalidRequestError("messages", err.Error())
		}
		out.Contents = append(out.Contents, content{Role: role, Parts: []part{{Text: msg.Content}}})
	}
	if len(system) > 0 {
		out.SystemInstruction = &content{Parts: system}
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		out.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return out, nil
}

func modelEndpoint(model, method string) string {
	return "/models/" + url.PathEscape(model) + ":" + method
}

// ChatCompletion sends a generateContent request to Gemini
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	body, err := convertRequest(req)
	if err != nil {
		return nil, err
	}

	var resp generateResponse
	err = p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: modelEndpoint(req.Model, "generateContent"),
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%s: response contained no candidates", p.name)
	}

	var text strings.Builder
	for _, pt := range resp.Candidates[0].Content.Parts {
		text.WriteString(pt.Text)
	}

	out := &core.ChatResponse{
		Content:  text.String(),
		Model:    resp.ModelVersion,
		Provider: p.name,
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if resp.UsageMetadata != nil {
		out.TokensUsed = core.IntPtr(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// StreamChatCompletion opens a streamGenerateContent SSE stream (caller must close)
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (core.DeltaStream, error) {
	body, err := convertRequest(req)
	if err != nil {
		return nil, err
	}

	stream, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: modelEndpoint(req.Model, "streamGenerateContent") + "?alt=sse",
		Body:     body,
	})
	if err != nil {
		return nil, err
	}
	return providers.NewSSEStream(stream, p.decodeEvent), nil
}

// decodeEvent treats the chunk carrying a finishReason as the last one; its
// text, if any, rides on the final delta.
func (p *Provider) decodeEvent(ev sse.Event) (core.Delta, bool, error) {
	if !gjson.Valid(ev.Data) {
		return core.Delta{}, false, fmt.Errorf("%s: malformed stream event", p.name)
	}
	event := gjson.Parse(ev.Data)

	if e := event.Get("error"); e.Exists() {
		status := int(e.Get("code").Int())
		if status == 0 {
			status = http.StatusBadGateway
		}
		return core.Delta{}, false, &core.UpstreamError{
			Provider:   p.name,
			StatusCode: status,
			Body:       []byte(ev.Data),
			Message:    e.Get("message").String(),
		}
	}

	var text strings.Builder
	event.Get("candidates.0.content.parts.#.text").ForEach(func(_, v gjson.Result) bool {
		text.WriteString(v.String())
		return true
	})

	delta := core.Delta{Text: text.String()}
	if event.Get("candidates.0.finishReason").String() != "" {
		delta.Done = true
		if total := event.Get("usageMetadata.totalTokenCount"); total.Exists() {
			delta.TokensUsed = core.IntPtr(int(total.Int()))
		}
	}
	return delta, delta.Text != "", nil
}

// ListModels retrieves the models that support generateContent
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	var resp modelsResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models?pageSize=1000",
	}, &resp)
	if err != nil {
		return nil, err
	}

	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		for _, method := range m.SupportedMethods {
			if method == "generateContent" {
				models = append(models, strings.TrimPrefix(m.Name, "models/"))
				break
			}
		}
	}
	return models, nil
}
