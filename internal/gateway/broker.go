package gateway

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"llmgateway/internal/core"
)

// Broker turns vendor delta streams into canonical chunk streams.
type Broker struct {
	observer Observer
}

// NewBroker creates a broker reporting to observer (nil disables reporting).
func NewBroker(observer Observer) *Broker {
	return &Broker{observer: observerOrNop(observer)}
}

// Stream is a canonical, ordered chunk stream over one vendor stream.
//
// Sequence numbers start at 0 and have no gaps. Exactly one terminal signal is
// delivered: either a chunk with IsFinal set or a non-nil error other than
// io.EOF. Afterwards Recv returns io.EOF. Once Cancel returns no further chunk
// is delivered; the next Recv reports the cancellation as the terminal error.
//
// Recv must be called from a single goroutine. Cancel and Close may be called
// from any goroutine. Callers must Close (or Cancel) every stream they do not
// read to completion.
type Stream struct {
	provider string
	src      core.DeltaStream
	observer Observer

	chunks chan core.StreamChunk
	done   chan struct{}
	// err is written by the producer before done is closed.
	err error

	cancelled  atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once

	// consumer-side state
	terminated bool
}

// NewStream starts relaying src. Cancelling ctx cancels the stream.
func (b *Broker) NewStream(ctx context.Context, provider string, src core.DeltaStream) *Stream {
	s := &Stream{
		provider: provider,
		src:      src,
		observer: b.observer,
		chunks:   make(chan core.StreamChunk),
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
	stop := context.AfterFunc(ctx, s.Cancel)
	go s.produce(stop)
	return s
}

// Provider returns the name of the provider being streamed.
func (s *Stream) Provider() string { return s.provider }

func (s *Stream) produce(stopWatch func() bool) {
	var (
		seq     uint64
		outcome = OutcomeCancelled
	)
	defer close(s.done)
	defer func() { s.observer.StreamFinished(s.provider, seq, outcome) }()
	defer stopWatch()
	defer func() { _ = s.src.Close() }()

	for {
		delta, err := s.src.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A vendor stream may not end silently; treat it as a truncation.
				err = io.ErrUnexpectedEOF
			}
			s.err = err
			if !s.cancelled.Load() {
				outcome = string(TranslateError(s.provider, err).Kind)
			}
			return
		}

		chunk := core.StreamChunk{
			Sequence:   seq,
			Text:       delta.Text,
			IsFinal:    delta.Done,
			TokensUsed: delta.TokensUsed,
		}
		select {
		case s.chunks <- chunk:
		case <-s.cancelCh:
			return
		}
		seq++
		if delta.Done {
			outcome = OutcomeCompleted
			return
		}
	}
}

// Recv returns the next chunk, or the terminal error. After the terminal
// signal it returns io.EOF.
func (s *Stream) Recv() (core.StreamChunk, error) {
	if s.terminated {
		return core.StreamChunk{}, io.EOF
	}
	if s.cancelled.Load() {
		return core.StreamChunk{}, s.fail(core.ErrStreamCancelled)
	}

	select {
	case chunk := <-s.chunks:
		// A chunk handed over concurrently with Cancel is dropped.
		if s.cancelled.Load() {
			return core.StreamChunk{}, s.fail(core.ErrStreamCancelled)
		}
		if chunk.IsFinal {
			s.terminated = true
		}
		return chunk, nil
	case <-s.done:
		if s.cancelled.Load() {
			return core.StreamChunk{}, s.fail(core.ErrStreamCancelled)
		}
		return core.StreamChunk{}, s.fail(s.err)
	}
}

// fail records the terminal signal and returns it as a canonical error.
func (s *Stream) fail(err error) error {
	s.terminated = true
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return TranslateError(s.provider, err)
}

// Cancel stops delivery and closes the vendor stream. It is safe to call
// more than once and after the stream has ended.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancelled.Store(true)
		close(s.cancelCh)
		// Unblocks a producer waiting on the network.
		_ = s.src.Close()
	})
}

// Close cancels the stream and waits for the relay goroutine to exit.
func (s *Stream) Close() error {
	s.Cancel()
	<-s.done
	return nil
}
