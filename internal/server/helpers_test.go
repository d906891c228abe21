package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"llmgateway/internal/conversation"
	"llmgateway/internal/core"
	"llmgateway/internal/gateway"
	"llmgateway/internal/providers"
)

// fakeProvider is a scripted adapter.
type fakeProvider struct {
	name      string
	streaming bool
	response  *core.ChatResponse
	err       error
	deltas    []core.Delta
	streamErr error // returned after deltas are exhausted
	models    []string

	mu       sync.Mutex
	requests []*core.ChatRequest
}

func (f *fakeProvider) Name() string            { return f.name }
func (f *fakeProvider) SupportsStreaming() bool { return f.streaming }

func (f *fakeProvider) ChatCompletion(_ context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeProvider) StreamChatCompletion(_ context.Context, req *core.ChatRequest) (core.DeltaStream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &fakeStream{deltas: f.deltas, err: f.streamErr}, nil
}

func (f *fakeProvider) ListModels(context.Context) ([]string, error) {
	return f.models, nil
}

func (f *fakeProvider) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeStream struct {
	deltas []core.Delta
	err    error
	pos    int
}

func (s *fakeStream) Recv() (core.Delta, error) {
	if s.pos < len(s.deltas) {
		d := s.deltas[s.pos]
		s.pos++
		return d, nil
	}
	if s.err != nil {
		return core.Delta{}, s.err
	}
	return core.Delta{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

// newTestServer builds a server over the given adapters and an in-memory
// conversation store. A nil cfg runs without authentication.
func newTestServer(t *testing.T, cfg *Config, adapters ...core.Provider) (*Server, conversation.Store) {
	t.Helper()
	if cfg == nil {
		cfg = &Config{DisableAuth: true}
	}
	registry := providers.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, registry.Register(a.Name(), a))
	}
	store := conversation.NewMemoryStore()
	return New(gateway.New(registry, gateway.Options{}), store, cfg), store
}

func doRequest(srv http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// errorKind extracts error.kind from a JSON error response.
func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error object: %s", rec.Body.String())
	kind, _ := errObj["kind"].(string)
	return kind
}

type sseEvent struct {
	event string
	data  string
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if frame == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(frame, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		events = append(events, ev)
	}
	return events
}
