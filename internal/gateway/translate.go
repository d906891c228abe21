package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/tidwall/gjson"

	"llmgateway/internal/core"
)

// TranslateError maps an adapter or transport failure onto the canonical
// taxonomy. Errors that are already canonical pass through, gaining the
// provider name if they lack one. A nil err yields nil.
func TranslateError(provider string, err error) *core.GatewayError {
	if err == nil {
		return nil
	}

	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		if gwErr.Provider == "" && provider != "" {
			clone := *gwErr
			clone.Provider = provider
			return &clone
		}
		return gwErr
	}

	var upErr *core.UpstreamError
	if errors.As(err, &upErr) {
		return translateUpstream(provider, upErr)
	}

	switch {
	case errors.Is(err, core.ErrStreamingUnsupported):
		gwErr := core.NewUnsupportedError(provider, "streaming is not supported by this provider")
		gwErr.Err = err
		return gwErr
	case errors.Is(err, core.ErrStreamCancelled):
		return core.NewUnknownError(provider, "stream cancelled", err)
	case errors.Is(err, core.ErrCircuitOpen):
		return core.NewProviderUnavailableError(provider, "provider temporarily disabled after repeated failures", err)
	case errors.Is(err, context.DeadlineExceeded):
		return core.NewProviderUnavailableError(provider, "provider request timed out", err)
	case errors.Is(err, context.Canceled):
		return core.NewUnknownError(provider, "request cancelled", err)
	case isConnectionFailure(err):
		return core.NewProviderUnavailableError(provider, "provider connection failed: "+err.Error(), err)
	}

	return core.NewUnknownError(provider, err.Error(), err)
}

// translateUpstream classifies a non-2xx vendor response by status code,
// except for credential rejections that vendors report under another status.
func translateUpstream(provider string, upErr *core.UpstreamError) *core.GatewayError {
	if provider == "" {
		provider = upErr.Provider
	}
	msg := upstreamMessage(upErr)
	status := upErr.StatusCode

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || credentialRejected(upErr.Body):
		return core.NewAuthFailureError(provider, msg, upErr)
	case status == http.StatusTooManyRequests:
		return core.NewRateLimitedError(provider, msg, upErr)
	case status == http.StatusRequestTimeout:
		return core.NewProviderUnavailableError(provider, msg, upErr)
	case status >= 400 && status < 500:
		gwErr := core.NewInvalidRequestError("", msg)
		gwErr.Provider = provider
		gwErr.Err = upErr
		return gwErr
	case status >= 500:
		return core.NewProviderUnavailableError(provider, msg, upErr)
	}
	return core.NewUnknownError(provider, msg, upErr)
}

// credentialRejected reports Google-style error bodies that flag the API key
// itself, which Gemini returns with a 400 status.
func credentialRejected(body []byte) bool {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return false
	}
	errObj := gjson.GetBytes(body, "error")
	if errObj.Get("status").String() == "UNAUTHENTICATED" {
		return true
	}
	return errObj.Get(`details.#(reason=="API_KEY_INVALID")`).Exists()
}

// upstreamMessage prefers the adapter-extracted message, then the common
// vendor error body shapes, then the status text.
func upstreamMessage(upErr *core.UpstreamError) string {
	if upErr.Message != "" {
		return upErr.Message
	}
	if len(upErr.Body) > 0 && gjson.ValidBytes(upErr.Body) {
		body := gjson.ParseBytes(upErr.Body)
		for _, path := range []string{"error.message", "error", "message", "detail"} {
			if v := body.Get(path); v.Exists() && v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	if text := http.StatusText(upErr.StatusCode); text != "" {
		return text
	}
	return "upstream error"
}

// isConnectionFailure reports transport-level failures worth retrying:
// network timeouts, resets, refused connections and truncated bodies.
func isConnectionFailure(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
