// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the gateway server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"llmgateway/config"
	"llmgateway/internal/cache"
	"llmgateway/internal/conversation"
	"llmgateway/internal/gateway"
	"llmgateway/internal/observability"
	"llmgateway/internal/providers"
	"llmgateway/internal/server"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config        *config.Config
	registry      *providers.Registry
	gateway       *gateway.Gateway
	catalogCache  cache.Cache
	conversations *conversation.Result
	server        *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the loaded application configuration.
	AppConfig *config.Config

	// Factory builds provider adapters by type.
	Factory *providers.Factory

	// Registerer and Gatherer back the metrics collectors and endpoint.
	// Nil uses the Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}

	appCfg := cfg.AppConfig
	app := &App{config: appCfg}

	// Hooks must be set BEFORE creating providers so adapters pick them up.
	var observer gateway.Observer
	if appCfg.Metrics.Enabled {
		reg := cfg.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		metrics := observability.New(reg)
		cfg.Factory.SetHooks(metrics.Hooks())
		observer = metrics
	}

	registry, err := providers.Init(ctx, appCfg, cfg.Factory)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	app.registry = registry

	catalogCache, err := cache.New(appCfg.CatalogCache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog cache: %w", err)
	}
	app.catalogCache = catalogCache

	conversations, err := conversation.New(ctx, appCfg)
	if err != nil {
		closeErr := app.closeCatalogCache()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize conversation store: %w (also: catalog cache close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize conversation store: %w", err)
	}
	app.conversations = conversations

	app.gateway = gateway.New(registry, gateway.Options{
		CatalogTimeout: appCfg.Gateway.CatalogTimeout,
		CatalogCache:   catalogCache,
		CatalogTTL:     appCfg.CatalogCache.TTL,
		Observer:       observer,
	})

	app.logStartupInfo()

	serverCfg := &server.Config{
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
		APIKeys:         appCfg.Server.APIKeys,
		DisableAuth:     appCfg.Server.DisableAuth,
		Gatherer:        cfg.Gatherer,
	}
	app.server = server.New(app.gateway, conversations.Store, serverCfg)

	return app, nil
}

// Gateway returns the dispatch entry point.
func (a *App) Gateway() *gateway.Gateway {
	return a.gateway
}

// Handler returns the HTTP handler, for embedding or tests.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server first, then the conversation store, then the catalog cache.
//
// Shutdown is idempotent. It attempts every close step and returns a joined
// error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.conversations != nil {
		if err := a.conversations.Close(); err != nil {
			slog.Error("conversation store close error", "error", err)
			errs = append(errs, fmt.Errorf("conversations close: %w", err))
		}
	}

	if err := a.closeCatalogCache(); err != nil {
		slog.Error("catalog cache close error", "error", err)
		errs = append(errs, fmt.Errorf("catalog cache close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

func (a *App) closeCatalogCache() error {
	if a.catalogCache == nil {
		return nil
	}
	return a.catalogCache.Close()
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.DisableAuth {
		slog.Warn("SECURITY WARNING: authentication disabled - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set API_KEYS and unset DISABLE_AUTH")
	} else {
		slog.Info("authentication enabled", "keys", len(cfg.Server.APIKeys))
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	slog.Info("storage configured", "type", cfg.Storage.Type)

	if a.catalogCache != nil {
		slog.Info("catalog cache enabled", "type", cfg.CatalogCache.Type, "ttl", cfg.CatalogCache.TTL)
	} else {
		slog.Info("catalog cache disabled")
	}

	slog.Info("providers registered", "providers", a.registry.Names())
}
