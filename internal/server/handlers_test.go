package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgateway/internal/conversation"
	"llmgateway/internal/core"
	"llmgateway/internal/gateway"
	"llmgateway/internal/providers"
)

const chatBody = `{"model":"gpt-4o","messages":[{"role":"user","content":"Hi"}]}`

func TestListModels(t *testing.T) {
	srv, _ := newTestServer(t, nil,
		&fakeProvider{name: "openai", models: []string{"gpt-4o", "gpt-4o-mini"}},
		&fakeProvider{name: "anthropic", models: []string{"claude-3-5-sonnet"}},
	)

	rec := doRequest(srv, http.MethodGet, "/llm/models", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Providers []core.ProviderDescriptor `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.ElementsMatch(t, []core.ProviderDescriptor{
		{Name: "openai", Models: []string{"gpt-4o", "gpt-4o-mini"}},
		{Name: "anthropic", Models: []string{"claude-3-5-sonnet"}},
	}, body.Providers)
}

func TestListModels_NoProviders(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/llm/models", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"providers":[]}`, rec.Body.String())
}

func TestListProviders(t *testing.T) {
	srv, _ := newTestServer(t, nil, &fakeProvider{name: "groq"}, &fakeProvider{name: "openai"})

	rec := doRequest(srv, http.MethodGet, "/llm/providers", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Providers []string `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.ElementsMatch(t, []string{"groq", "openai"}, body.Providers)
}

func TestChat(t *testing.T) {
	p := &fakeProvider{
		name:     "openai",
		response: &core.ChatResponse{Content: "Hello!", TokensUsed: core.IntPtr(7), Model: "gpt-4o", Provider: "openai"},
	}
	srv, _ := newTestServer(t, nil, p)

	rec := doRequest(srv, http.MethodPost, "/llm/openai/chat", chatBody)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"content":"Hello!","tokens_used":7,"model":"gpt-4o","provider":"openai"}`, rec.Body.String())
	require.Equal(t, 1, p.requestCount())
	assert.Equal(t, "gpt-4o", p.requests[0].Model)
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name           string
		provider       *fakeProvider
		path           string
		body           string
		expectedStatus int
		expectedKind   string
	}{
		{
			name:           "malformed body",
			provider:       &fakeProvider{name: "openai"},
			path:           "/llm/openai/chat",
			body:           `{"model":`,
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "invalid_request",
		},
		{
			name:           "invalid role",
			provider:       &fakeProvider{name: "openai"},
			path:           "/llm/openai/chat",
			body:           `{"model":"gpt-4o","messages":[{"role":"tool","content":"x"}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "invalid_request",
		},
		{
			name:           "temperature out of range",
			provider:       &fakeProvider{name: "openai"},
			path:           "/llm/openai/chat",
			body:           `{"model":"gpt-4o","temperature":3,"messages":[{"role":"user","content":"x"}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "invalid_request",
		},
		{
			name:           "unknown provider",
			provider:       &fakeProvider{name: "openai"},
			path:           "/llm/mistral/chat",
			body:           chatBody,
			expectedStatus: http.StatusNotImplemented,
			expectedKind:   "unsupported",
		},
		{
			name: "upstream rate limit",
			provider: &fakeProvider{
				name: "openai",
				err:  core.NewRateLimitedError("openai", "slow down", nil),
			},
			path:           "/llm/openai/chat",
			body:           chatBody,
			expectedStatus: http.StatusTooManyRequests,
			expectedKind:   "rate_limited",
		},
		{
			name: "unclassified adapter error",
			provider: &fakeProvider{
				name: "openai",
				err:  errors.New("boom"),
			},
			path:           "/llm/openai/chat",
			body:           chatBody,
			expectedStatus: http.StatusInternalServerError,
			expectedKind:   "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, nil, tt.provider)

			rec := doRequest(srv, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.expectedKind, errorKind(t, rec))
		})
	}
}

func TestChat_InvalidRequestNamesField(t *testing.T) {
	p := &fakeProvider{name: "openai"}
	srv, _ := newTestServer(t, nil, p)

	rec := doRequest(srv, http.MethodPost, "/llm/openai/chat", `{"messages":[{"role":"user","content":"x"}]}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	errObj := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, "model", errObj["field"])
	assert.Equal(t, false, errObj["retryable"])
	assert.Zero(t, p.requestCount())
}

func TestChat_Stream(t *testing.T) {
	p := &fakeProvider{
		name:      "openai",
		streaming: true,
		deltas: []core.Delta{
			{Text: "Hel"},
			{Text: "lo"},
			{Done: true, TokensUsed: core.IntPtr(5)},
		},
	}
	srv, _ := newTestServer(t, nil, p)

	rec := doRequest(srv, http.MethodPost, "/llm/openai/chat",
		`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 3)

	var chunks []core.StreamChunk
	for _, ev := range events {
		assert.Empty(t, ev.event)
		var chunk core.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(ev.data), &chunk))
		chunks = append(chunks, chunk)
	}
	for i, chunk := range chunks {
		assert.Equal(t, uint64(i), chunk.Sequence)
	}
	assert.Equal(t, "Hel", chunks[0].Text)
	assert.False(t, chunks[1].IsFinal)
	assert.True(t, chunks[2].IsFinal)
	require.NotNil(t, chunks[2].TokensUsed)
	assert.Equal(t, 5, *chunks[2].TokensUsed)
}

func TestChat_StreamUnsupported(t *testing.T) {
	p := &fakeProvider{name: "legacy", streaming: false}
	srv, _ := newTestServer(t, nil, p)

	rec := doRequest(srv, http.MethodPost, "/llm/legacy/chat",
		`{"model":"m","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "unsupported", errorKind(t, rec))
	assert.Zero(t, p.requestCount())
}

func TestChat_StreamErrorBeforeFirstChunk(t *testing.T) {
	tests := []struct {
		name           string
		streamErr      error
		expectedStatus int
		expectedKind   string
	}{
		{
			name:           "rate limited",
			streamErr:      &core.UpstreamError{Provider: "openai", StatusCode: http.StatusTooManyRequests, Body: []byte(`{"error":{"message":"slow down"}}`)},
			expectedStatus: http.StatusTooManyRequests,
			expectedKind:   "rate_limited",
		},
		{
			name:           "bad credentials",
			streamErr:      &core.UpstreamError{Provider: "openai", StatusCode: http.StatusUnauthorized},
			expectedStatus: http.StatusUnauthorized,
			expectedKind:   "auth_failure",
		},
		{
			name:           "connection dropped",
			streamErr:      io.ErrUnexpectedEOF,
			expectedStatus: http.StatusServiceUnavailable,
			expectedKind:   "provider_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{name: "openai", streaming: true, streamErr: tt.streamErr}
			srv, store := newTestServer(t, nil, p)

			conv, err := store.CreateConversation(context.Background(), nil)
			require.NoError(t, err)

			rec := doRequest(srv, http.MethodPost, "/llm/openai/chat",
				`{"model":"gpt-4o","stream":true,"conversation_id":"`+conv.ID+`","messages":[{"role":"user","content":"Hi"}]}`)

			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			assert.Equal(t, tt.expectedKind, errorKind(t, rec))

			msgs, err := store.ListMessages(context.Background(), conv.ID)
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestChat_StreamErrorAfterFirstChunk(t *testing.T) {
	p := &fakeProvider{
		name:      "openai",
		streaming: true,
		deltas:    []core.Delta{{Text: "partial"}},
		streamErr: io.ErrUnexpectedEOF,
	}
	srv, store := newTestServer(t, nil, p)

	conv, err := store.CreateConversation(context.Background(), nil)
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodPost, "/llm/openai/chat",
		`{"model":"gpt-4o","stream":true,"conversation_id":"`+conv.ID+`","messages":[{"role":"user","content":"Hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Empty(t, events[0].event)
	assert.Equal(t, "error", events[1].event)

	var errBody struct {
		Error struct {
			Kind     string `json:"kind"`
			Provider string `json:"provider"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &errBody))
	assert.NotEmpty(t, errBody.Error.Kind)
	assert.Equal(t, "openai", errBody.Error.Provider)

	msgs, err := store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "incomplete streams are not persisted")
}

func TestChat_PersistsConversation(t *testing.T) {
	p := &fakeProvider{name: "openai", response: &core.ChatResponse{Content: "Hello!"}}
	srv, store := newTestServer(t, nil, p)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, nil)
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodPost, "/llm/openai/chat",
		`{"model":"gpt-4o","conversation_id":"`+conv.ID+`","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"Hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, core.RoleSystem, msgs[0].Role)
	assert.Equal(t, "Hi", msgs[1].Content)
	assert.Equal(t, core.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "Hello!", msgs[2].Content)
}

func TestChat_StreamPersistsConversation(t *testing.T) {
	p := &fakeProvider{
		name:      "openai",
		streaming: true,
		deltas:    []core.Delta{{Text: "Hel"}, {Text: "lo"}, {Done: true}},
	}
	srv, store := newTestServer(t, nil, p)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, nil)
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodPost, "/llm/openai/chat",
		`{"model":"gpt-4o","stream":true,"conversation_id":"`+conv.ID+`","messages":[{"role":"user","content":"Hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[1].Content)
}

func TestChat_UnknownConversation(t *testing.T) {
	p := &fakeProvider{name: "openai", response: &core.ChatResponse{Content: "Hello!"}}
	srv, _ := newTestServer(t, nil, p)

	rec := doRequest(srv, http.MethodPost, "/llm/openai/chat",
		`{"model":"gpt-4o","conversation_id":"missing","messages":[{"role":"user","content":"Hi"}]}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorKind(t, rec))
	assert.Zero(t, p.requestCount())
}

// failingStore fails every append; the chat reply must still be served.
type failingStore struct {
	conversation.Store
}

func (failingStore) AppendMessages(context.Context, string, []core.ChatMessage) ([]conversation.Message, error) {
	return nil, errors.New("disk full")
}

func TestChat_PersistFailureDoesNotFailRequest(t *testing.T) {
	p := &fakeProvider{name: "openai", response: &core.ChatResponse{Content: "Hello!"}}
	registry := providers.NewRegistry()
	require.NoError(t, registry.Register(p.Name(), p))

	inner := conversation.NewMemoryStore()
	conv, err := inner.CreateConversation(context.Background(), nil)
	require.NoError(t, err)
	srv := New(gateway.New(registry, gateway.Options{}), failingStore{Store: inner}, &Config{DisableAuth: true})

	rec := doRequest(srv, http.MethodPost, "/llm/openai/chat",
		`{"model":"gpt-4o","conversation_id":"`+conv.ID+`","messages":[{"role":"user","content":"Hi"}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"content":"Hello!"}`, rec.Body.String())
}
