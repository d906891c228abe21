package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgateway/internal/core"
	"llmgateway/internal/providers"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, ok := New(providers.AdapterConfig{BaseURL: server.URL}, providers.ProviderOptions{}).(*Provider)
	require.True(t, ok)
	return p
}

func userRequest() *core.ChatRequest {
	return &core.ChatRequest{
		Model:    "llama3.2",
		Messages: []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}},
	}
}

func TestChatCompletion(t *testing.T) {
	var body map[string]interface{}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"Hi there"},"done":true,"prompt_eval_count":11,"eval_count":4}`))
	})

	req := userRequest()
	req.Temperature = core.Float64Ptr(0.2)
	req.MaxTokens = core.IntPtr(32)
	resp, err := p.ChatCompletion(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Hi there", resp.Content)
	assert.Equal(t, 15, *resp.TokensUsed)
	assert.Equal(t, "ollama", resp.Provider)

	assert.Equal(t, false, body["stream"])
	opts := body["options"].(map[string]interface{})
	assert.Equal(t, 0.2, opts["temperature"])
	assert.Equal(t, float64(32), opts["num_predict"])
}

func TestStreamChatCompletion(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(
			`{"model":"llama3.2","message":{"role":"assistant","content":"Hel"},"done":false}` + "\n" +
				`{"model":"llama3.2","message":{"role":"assistant","content":"lo"},"done":false}` + "\n" +
				`{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":5,"eval_count":2}` + "\n"))
	})

	stream, err := p.StreamChatCompletion(context.Background(), userRequest())
	require.NoError(t, err)
	defer stream.Close()

	d, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hel", d.Text)
	d, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "lo", d.Text)

	d, err = stream.Recv()
	require.NoError(t, err)
	assert.True(t, d.Done)
	assert.Equal(t, 7, *d.TokensUsed)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamChatCompletion_ErrorLine(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model 'llama9' not found"}` + "\n"))
	})

	stream, err := p.StreamChatCompletion(context.Background(), userRequest())
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv()
	var upErr *core.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "model 'llama9' not found", upErr.Message)
}

func TestStreamChatCompletion_Truncated(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"content":"Hel"},"done":false}` + "\n"))
	})

	stream, err := p.StreamChatCompletion(context.Background(), userRequest())
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv()
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestListModels(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:latest","size":2019393189},{"name":"qwen2.5:7b"}]}`))
	})

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2:latest", "qwen2.5:7b"}, models)
}

func TestCheckAvailability(t *testing.T) {
	up := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	})
	assert.NoError(t, up.CheckAvailability(context.Background()))

	down := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.Error(t, down.CheckAvailability(context.Background()))
}

func TestSetHeaders(t *testing.T) {
	var auth, reqID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		reqID = r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	p := New(providers.AdapterConfig{APIKey: "optional", BaseURL: server.URL}, providers.ProviderOptions{})
	_, err := p.ListModels(core.WithRequestID(context.Background(), "req-1"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer optional", auth)
	assert.Equal(t, "req-1", reqID)
}
