package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llmgateway/internal/conversation"
	"llmgateway/internal/core"
	"llmgateway/internal/gateway"
)

const defaultBodySizeLimit = "4M"

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	APIKeys         []string // Accepted bearer keys
	DisableAuth     bool     // Skip bearer authentication entirely
	MetricsEnabled  bool     // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string   // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   string   // Max request body size in echo notation (default: 4M)

	// Gatherer backs the metrics endpoint. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// New creates a new HTTP server
func New(gw *gateway.Gateway, conversations conversation.Store, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(gw, conversations)

	authSkipPaths := []string{"/health"}

	metricsPath := "/metrics"
	if cfg.MetricsEnabled {
		if cfg.MetricsEndpoint != "" {
			metricsPath = path.Clean(cfg.MetricsEndpoint)
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	// Global middleware stack (order matters)
	e.Use(requestIDMiddleware())
	e.Use(requestLoggerMiddleware())
	e.Use(middleware.Recover())

	bodySizeLimit := defaultBodySizeLimit
	if cfg.BodySizeLimit != "" {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(bodySizeLimit))

	if !cfg.DisableAuth {
		e.Use(AuthMiddleware(cfg.APIKeys, authSkipPaths))
	}

	// Public routes
	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		metricsHandler := promhttp.Handler()
		if cfg.Gatherer != nil {
			metricsHandler = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
		}
		e.GET(metricsPath, echo.WrapHandler(metricsHandler))
	}

	llm := e.Group("/llm")
	llm.GET("/models", handler.ListModels)
	llm.GET("/providers", handler.ListProviders)
	llm.POST("/:provider/chat", handler.Chat)

	chats := e.Group("/chats")
	chats.POST("", handler.CreateConversation)
	chats.GET("", handler.ListConversations)
	chats.GET("/:id", handler.GetConversation)
	chats.PATCH("/:id", handler.UpdateConversation)
	chats.DELETE("/:id", handler.DeleteConversation)
	chats.GET("/:id/messages", handler.ListMessages)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// requestIDMiddleware keeps a client-supplied X-Request-ID or generates a
// UUID, echoes it back, and attaches it to the request context.
func requestIDMiddleware() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			if req.Header.Get(echo.HeaderXRequestID) == "" {
				req.Header.Set(echo.HeaderXRequestID, id)
			}
			c.SetRequest(req.WithContext(core.WithRequestID(req.Context(), id)))
		},
	})
}

func requestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}
