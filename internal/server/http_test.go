package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgateway/internal/conversation"
	"llmgateway/internal/core"
	"llmgateway/internal/gateway"
	"llmgateway/internal/providers"
)

func TestRequestIDMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	t.Run("generates request ID when missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		srv.ServeHTTP(rec, req)

		got := rec.Header().Get("X-Request-ID")
		_, err := uuid.Parse(got)
		assert.NoError(t, err, "expected a UUID, got %q", got)
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "my-custom-id")
		rec := httptest.NewRecorder()

		srv.ServeHTTP(rec, req)

		assert.Equal(t, "my-custom-id", req.Header.Get("X-Request-ID"))
		assert.Equal(t, "my-custom-id", rec.Header().Get("X-Request-ID"))
	})

	t.Run("attaches request ID to context", func(t *testing.T) {
		e := echo.New()
		var seen string
		e.Use(requestIDMiddleware())
		e.GET("/", func(c echo.Context) error {
			seen = core.GetRequestID(c.Request().Context())
			return c.NoContent(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "ctx-id")
		e.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "ctx-id", seen)
	})
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &Config{APIKeys: []string{"secret"}})

	rec := doRequest(srv, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "llmgateway_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	tests := []struct {
		name           string
		config         *Config
		requestPath    string
		expectedStatus int
		expectBody     string
	}{
		{
			name:           "metrics enabled - default endpoint accessible",
			config:         &Config{MetricsEnabled: true, Gatherer: reg},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "llmgateway_test_total 1",
		},
		{
			name:           "metrics enabled - custom endpoint",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/internal/metrics", Gatherer: reg},
			requestPath:    "/internal/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "llmgateway_test_total",
		},
		{
			name:           "metrics enabled - endpoint path is cleaned",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/internal/../metrics/", Gatherer: reg},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "llmgateway_test_total",
		},
		{
			name:           "metrics enabled - skips authentication",
			config:         &Config{MetricsEnabled: true, APIKeys: []string{"secret"}, Gatherer: reg},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "llmgateway_test_total",
		},
		{
			name:           "metrics disabled - endpoint not found",
			config:         &Config{MetricsEnabled: false, DisableAuth: true, Gatherer: reg},
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.config)

			rec := doRequest(srv, http.MethodGet, tt.requestPath, "")

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectBody != "" {
				assert.Contains(t, rec.Body.String(), tt.expectBody)
			}
		})
	}
}

func TestServer_RequiresAPIKey(t *testing.T) {
	p := &fakeProvider{name: "openai", models: []string{"gpt-4o"}}
	srv, _ := newTestServer(t, &Config{APIKeys: []string{"secret"}}, p)

	rec := doRequest(srv, http.MethodGet, "/llm/providers", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "auth_failure", errorKind(t, rec))

	req := httptest.NewRequest(http.MethodGet, "/llm/providers", nil)
	req.Header.Set("Authorization", "Bearer secret")
	authed := httptest.NewRecorder()
	srv.ServeHTTP(authed, req)
	assert.Equal(t, http.StatusOK, authed.Code)
}

func TestServer_BodySizeLimit(t *testing.T) {
	p := &fakeProvider{name: "openai", response: &core.ChatResponse{Content: "hi"}}
	srv, _ := newTestServer(t, &Config{BodySizeLimit: "1K", DisableAuth: true}, p)

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"` + strings.Repeat("x", 2048) + `"}]}`
	rec := doRequest(srv, http.MethodPost, "/llm/openai/chat", body)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, p.requestCount())
}

func TestServer_NilConfigRequiresAuth(t *testing.T) {
	registry := providers.NewRegistry()
	srv := New(gateway.New(registry, gateway.Options{}), conversation.NewMemoryStore(), nil)

	rec := doRequest(srv, http.MethodGet, "/llm/providers", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_BlankKeysRejectEverything(t *testing.T) {
	srv, _ := newTestServer(t, &Config{APIKeys: []string{"", "  "}}, &fakeProvider{name: "openai"})

	rec := doRequest(srv, http.MethodGet, "/llm/providers", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/llm/providers", nil)
	req.Header.Set("Authorization", "Bearer ")
	blank := httptest.NewRecorder()
	srv.ServeHTTP(blank, req)
	assert.Equal(t, http.StatusUnauthorized, blank.Code)
}
