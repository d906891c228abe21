// Package llmclient provides a base HTTP client for LLM providers with:
// - Request marshaling/unmarshaling
// - Per-call deadlines
// - Optional retries with exponential backoff
// - Circuit breaking
// - Response content decoding (gzip, br)
// - Observability hooks
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"llmgateway/internal/core"
	"llmgateway/internal/httpclient"
)

// Config holds configuration for the LLM client
type Config struct {
	// ProviderName identifies the provider in errors and hooks
	ProviderName string

	// BaseURL is the API base URL
	BaseURL string

	// RequestTimeout bounds each outbound call, including the whole body of a
	// stream. It is only applied when the caller's context has no earlier deadline.
	RequestTimeout time.Duration

	Retry RetryConfig

	// Circuit breaker configuration (nil disables it)
	CircuitBreaker *CircuitBreakerConfig

	Hooks Hooks
}

// RetryConfig controls retries of non-streaming requests.
// MaxRetries defaults to 0: callers own retry policy and use the retryable hint instead.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of successes needed to close an open circuit
	SuccessThreshold int
	// Timeout is how long to wait before attempting to close an open circuit
	Timeout time.Duration
}

// DefaultRequestTimeout is used when a provider configures no timeout.
const DefaultRequestTimeout = 120 * time.Second

// DefaultConfig returns default client configuration
func DefaultConfig(providerName, baseURL string) Config {
	return Config{
		ProviderName:   providerName,
		BaseURL:        baseURL,
		RequestTimeout: DefaultRequestTimeout,
		Retry: RetryConfig{
			MaxRetries:     0,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2.0,
		},
		CircuitBreaker: &CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
	}
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for LLM providers
type Client struct {
	httpClient     *http.Client
	config         Config
	headerSetter   HeaderSetter
	circuitBreaker *circuitBreaker
}

// New creates a new LLM client with the given configuration
func New(config Config, headerSetter HeaderSetter) *Client {
	return NewWithHTTPClient(httpclient.NewDefaultHTTPClient(), config, headerSetter)
}

// NewWithHTTPClient creates a new LLM client with a custom HTTP client
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	c := &Client{
		httpClient:   httpClient,
		config:       config,
		headerSetter: headerSetter,
	}

	if config.CircuitBreaker != nil {
		c.circuitBreaker = newCircuitBreaker(
			config.CircuitBreaker.FailureThreshold,
			config.CircuitBreaker.SuccessThreshold,
			config.CircuitBreaker.Timeout,
		)
	}

	return c
}

// SetBaseURL updates the base URL
func (c *Client) SetBaseURL(url string) {
	c.config.BaseURL = url
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	Body     interface{} // Will be JSON marshaled if not nil
	Headers  map[string]string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// Do executes a request and unmarshals the response into result
func (c *Client) Do(ctx context.Context, req Request, result interface{}) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return fmt.Errorf("%s: decode response: %w", c.config.ProviderName, err)
		}
	}

	return nil
}

// DoRaw executes a request with retries and circuit breaking, returning the raw response.
// A non-2xx status is returned as *core.UpstreamError.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		return nil, fmt.Errorf("%s: %w", c.config.ProviderName, core.ErrCircuitOpen)
	}

	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	var lastErr error
	maxAttempts := c.config.Retry.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s: %w", c.config.ProviderName, ctx.Err())
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		resp, err := c.doRequest(ctx, req)
		if err != nil {
			lastErr = err
			c.recordFailure()
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}

		if isSuccess(resp.StatusCode) {
			c.recordSuccess()
			return resp, nil
		}

		lastErr = c.upstreamError(resp.StatusCode, resp.Body)
		if isRetryable(resp.StatusCode) {
			c.recordFailure()
			continue
		}
		if resp.StatusCode >= 500 {
			c.recordFailure()
		}
		return nil, lastErr
	}

	return nil, lastErr
}

// DoStream executes a streaming request, returning the response body (caller must close).
// Streaming requests are never retried. Closing the body also releases the
// per-call deadline, which stays in force for the whole stream.
func (c *Client) DoStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		return nil, fmt.Errorf("%s: %w", c.config.ProviderName, core.ErrCircuitOpen)
	}

	ctx, cancel := c.withDeadline(ctx)
	info := RequestInfo{Provider: c.config.ProviderName, Method: req.Method, Endpoint: req.Endpoint, Stream: true}
	ctx = c.config.Hooks.start(ctx, info)
	start := time.Now()

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		c.recordFailure()
		err = fmt.Errorf("%s: send request: %w", c.config.ProviderName, err)
		c.config.Hooks.end(ctx, info.result(0, time.Since(start), err))
		return nil, err
	}

	if !isSuccess(resp.StatusCode) {
		respBody, readErr := readBody(resp)
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		_ = resp.Body.Close()
		cancel()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.recordFailure()
		}
		upErr := c.upstreamError(resp.StatusCode, respBody)
		c.config.Hooks.end(ctx, info.result(resp.StatusCode, time.Since(start), upErr))
		return nil, upErr
	}

	c.recordSuccess()

	body, err := decodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%s: %w", c.config.ProviderName, err)
	}

	return &streamBody{
		ReadCloser: body,
		onClose: func() {
			cancel()
			c.config.Hooks.end(ctx, info.result(resp.StatusCode, time.Since(start), nil))
		},
	}, nil
}

// doRequest executes a single HTTP request without retries
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	info := RequestInfo{Provider: c.config.ProviderName, Method: req.Method, Endpoint: req.Endpoint}
	ctx = c.config.Hooks.start(ctx, info)
	start := time.Now()

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("%s: send request: %w", c.config.ProviderName, err)
		c.config.Hooks.end(ctx, info.result(0, time.Since(start), err))
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readBody(resp)
	if err != nil {
		err = fmt.Errorf("%s: read response: %w", c.config.ProviderName, err)
		c.config.Hooks.end(ctx, info.result(resp.StatusCode, time.Since(start), err))
		return nil, err
	}

	var hookErr error
	if !isSuccess(resp.StatusCode) {
		hookErr = c.upstreamError(resp.StatusCode, body)
	}
	c.config.Hooks.end(ctx, info.result(resp.StatusCode, time.Since(start), hookErr))

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.config.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", c.config.ProviderName, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.config.ProviderName, err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

// withDeadline applies RequestTimeout unless the caller already has an earlier deadline.
func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.config.RequestTimeout
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Client) upstreamError(status int, body []byte) *core.UpstreamError {
	return &core.UpstreamError{
		Provider:   c.config.ProviderName,
		StatusCode: status,
		Body:       body,
	}
}

// calculateBackoff calculates the backoff duration for a given attempt
func (c *Client) calculateBackoff(attempt int) time.Duration {
	r := c.config.Retry
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	backoff := float64(r.InitialBackoff) * math.Pow(factor, float64(attempt-1))
	if r.MaxBackoff > 0 && backoff > float64(r.MaxBackoff) {
		backoff = float64(r.MaxBackoff)
	}
	return time.Duration(backoff)
}

func (c *Client) recordFailure() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.RecordFailure()
	}
}

func (c *Client) recordSuccess() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.RecordSuccess()
	}
}

// CircuitState reports the breaker state ("closed", "open", "half-open"), or "disabled".
func (c *Client) CircuitState() string {
	if c.circuitBreaker == nil {
		return "disabled"
	}
	return c.circuitBreaker.State()
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// isRetryable returns true if the status code indicates a retryable error
func isRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusGatewayTimeout
}

// streamBody runs onClose exactly once when the body is closed.
type streamBody struct {
	io.ReadCloser
	onClose func()
	once    sync.Once
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.onClose)
	return err
}
