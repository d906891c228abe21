package gateway

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"llmgateway/internal/core"
)

// scriptedStream replays deltas, then either ends (io.EOF) or blocks until closed.
type scriptedStream struct {
	mu     sync.Mutex
	deltas []core.Delta
	err    error // returned after deltas instead of io.EOF
	block  bool

	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newScriptedStream(deltas ...core.Delta) *scriptedStream {
	return &scriptedStream{deltas: deltas, closed: make(chan struct{})}
}

func (s *scriptedStream) Recv() (core.Delta, error) {
	s.mu.Lock()
	if len(s.deltas) > 0 {
		d := s.deltas[0]
		s.deltas = s.deltas[1:]
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	if s.block {
		<-s.closed
		return core.Delta{}, errors.New("read on closed body")
	}
	if s.err != nil {
		return core.Delta{}, s.err
	}
	return core.Delta{}, io.EOF
}

func (s *scriptedStream) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeProvider is a configurable core.Provider.
type fakeProvider struct {
	name      string
	streaming bool

	chatResp  *core.ChatResponse
	chatErr   error
	stream    core.DeltaStream
	streamErr error

	models    []string
	modelsErr error
	// listDelay makes ListModels wait (honouring ctx) before answering.
	listDelay time.Duration
	// ignoreCtx makes ListModels block on hang regardless of ctx.
	ignoreCtx bool
	hang      chan struct{}

	chatCalls atomic.Int32
	listCalls atomic.Int32
	lastReq   *core.ChatRequest
}

func (f *fakeProvider) Name() string            { return f.name }
func (f *fakeProvider) SupportsStreaming() bool { return f.streaming }

func (f *fakeProvider) ChatCompletion(_ context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	f.chatCalls.Add(1)
	f.lastReq = req
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.chatResp, nil
}

func (f *fakeProvider) StreamChatCompletion(_ context.Context, req *core.ChatRequest) (core.DeltaStream, error) {
	f.chatCalls.Add(1)
	f.lastReq = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]string, error) {
	f.listCalls.Add(1)
	if f.ignoreCtx {
		<-f.hang
	}
	if f.listDelay > 0 {
		select {
		case <-time.After(f.listDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.modelsErr != nil {
		return nil, f.modelsErr
	}
	return f.models, nil
}

// fakeSource is an ordered ProviderSource.
type fakeSource struct {
	order     []string
	providers map[string]core.Provider
}

func newFakeSource(ps ...*fakeProvider) *fakeSource {
	s := &fakeSource{providers: make(map[string]core.Provider)}
	for _, p := range ps {
		s.order = append(s.order, p.name)
		s.providers[p.name] = p
	}
	return s
}

func (s *fakeSource) Names() []string { return append([]string(nil), s.order...) }

func (s *fakeSource) Resolve(name string) (core.Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, core.NewUnsupportedError(name, "provider \""+name+"\" is not configured")
	}
	return p, nil
}

// recordingObserver captures observer callbacks.
type recordingObserver struct {
	mu       sync.Mutex
	fetches  map[string]error
	outcomes []string
	chunks   []uint64
	finished chan struct{}
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{fetches: make(map[string]error), finished: make(chan struct{}, 16)}
}

func (o *recordingObserver) CatalogFetched(provider string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches[provider] = err
}

func (o *recordingObserver) StreamFinished(_ string, chunks uint64, outcome string) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.chunks = append(o.chunks, chunks)
	o.mu.Unlock()
	o.finished <- struct{}{}
}
