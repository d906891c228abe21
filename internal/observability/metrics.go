// Package observability exposes Prometheus instrumentation for vendor calls,
// catalog aggregation and brokered streams.
package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"llmgateway/internal/core"
	"llmgateway/internal/llmclient"
)

const namespace = "llmgateway"

// Metrics holds the gateway's collectors. It implements gateway.Observer and
// provides llmclient.Hooks for adapters.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec

	catalogFetches  *prometheus.CounterVec
	catalogDuration *prometheus.HistogramVec

	streamsTotal *prometheus.CounterVec
	streamChunks *prometheus.HistogramVec
}

// New registers the collectors with reg. Use prometheus.DefaultRegisterer to
// serve them from promhttp.Handler().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Outbound vendor requests by provider, stream mode and status.",
			},
			[]string{"provider", "stream", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Outbound vendor request latency in seconds. For streams this covers the whole body.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "stream"},
		),
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_requests_in_flight",
				Help:      "Outbound vendor requests currently in flight.",
			},
			[]string{"provider"},
		),
		catalogFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_fetches_total",
				Help:      "Per-provider model list fetches during catalog aggregation.",
			},
			[]string{"provider", "result"},
		),
		catalogDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "catalog_fetch_duration_seconds",
				Help:      "Per-provider model list fetch latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		streamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_total",
				Help:      "Brokered streams by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		streamChunks: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stream_chunks",
				Help:      "Chunks delivered per brokered stream.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"provider"},
		),
	}
}

// Hooks returns llmclient hooks that record vendor traffic.
func (m *Metrics) Hooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestStart: func(ctx context.Context, info llmclient.RequestInfo) context.Context {
			m.inFlight.WithLabelValues(info.Provider).Inc()
			return ctx
		},
		OnRequestEnd: func(_ context.Context, info llmclient.ResponseInfo) {
			stream := strconv.FormatBool(info.Stream)
			m.inFlight.WithLabelValues(info.Provider).Dec()
			m.requestsTotal.WithLabelValues(info.Provider, stream, statusLabel(info)).Inc()
			m.requestDuration.WithLabelValues(info.Provider, stream).Observe(info.Duration.Seconds())
		},
	}
}

// CatalogFetched records one provider's model list fetch.
func (m *Metrics) CatalogFetched(provider string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
		var gwErr *core.GatewayError
		if errors.As(err, &gwErr) {
			result = string(gwErr.Kind)
		}
	}
	m.catalogFetches.WithLabelValues(provider, result).Inc()
	m.catalogDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// StreamFinished records a brokered stream's outcome.
func (m *Metrics) StreamFinished(provider string, chunks uint64, outcome string) {
	m.streamsTotal.WithLabelValues(provider, outcome).Inc()
	m.streamChunks.WithLabelValues(provider).Observe(float64(chunks))
}

// statusLabel is the HTTP status, or "error" when the call never got one.
func statusLabel(info llmclient.ResponseInfo) string {
	if info.StatusCode == 0 {
		return "error"
	}
	return strconv.Itoa(info.StatusCode)
}
