package llmclient

import (
	"context"
	"time"
)

// RequestInfo describes an outbound vendor call as it starts.
type RequestInfo struct {
	Provider string
	Method   string
	Endpoint string
	Stream   bool
}

// ResponseInfo describes an outbound vendor call once it finished.
// For streams it is reported when the body is closed.
type ResponseInfo struct {
	RequestInfo
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Hooks lets observability code watch vendor traffic without the client
// depending on a metrics library. Either callback may be nil.
type Hooks struct {
	OnRequestStart func(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd   func(ctx context.Context, info ResponseInfo)
}

func (h Hooks) start(ctx context.Context, info RequestInfo) context.Context {
	if h.OnRequestStart == nil {
		return ctx
	}
	if next := h.OnRequestStart(ctx, info); next != nil {
		return next
	}
	return ctx
}

func (h Hooks) end(ctx context.Context, info ResponseInfo) {
	if h.OnRequestEnd != nil {
		h.OnRequestEnd(ctx, info)
	}
}

func (i RequestInfo) result(status int, d time.Duration, err error) ResponseInfo {
	return ResponseInfo{RequestInfo: i, StatusCode: status, Duration: d, Err: err}
}
