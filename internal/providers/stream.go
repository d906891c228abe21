package providers

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"llmgateway/internal/core"
	"llmgateway/internal/sse"
)

// SSEDecoder converts one SSE event into a delta. emit=false skips the event
// (pings, bookkeeping events). Returning a delta with Done set ends the stream.
type SSEDecoder func(ev sse.Event) (delta core.Delta, emit bool, err error)

// LineDecoder is the NDJSON counterpart of SSEDecoder.
type LineDecoder func(line []byte) (delta core.Delta, emit bool, err error)

// NewSSEStream decodes an SSE body into a core.DeltaStream. The body is
// closed by Close; a body that ends before a Done delta yields io.ErrUnexpectedEOF.
func NewSSEStream(body io.ReadCloser, decode SSEDecoder) core.DeltaStream {
	reader := sse.NewReader(body)
	return &deltaStream{
		body: body,
		next: func() (core.Delta, bool, error) {
			ev, err := reader.Next()
			if err != nil {
				return core.Delta{}, false, err
			}
			return decode(ev)
		},
	}
}

// NewLineStream decodes a newline-delimited JSON body into a core.DeltaStream.
func NewLineStream(body io.ReadCloser, decode LineDecoder) core.DeltaStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &deltaStream{
		body: body,
		next: func() (core.Delta, bool, error) {
			for scanner.Scan() {
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}
				return decode(line)
			}
			if err := scanner.Err(); err != nil {
				return core.Delta{}, false, err
			}
			return core.Delta{}, false, io.EOF
		},
	}
}

type deltaStream struct {
	body      io.ReadCloser
	next      func() (core.Delta, bool, error)
	done      bool
	closeOnce sync.Once
	closeErr  error
}

func (s *deltaStream) Recv() (core.Delta, error) {
	if s.done {
		return core.Delta{}, io.EOF
	}
	for {
		delta, emit, err := s.next()
		if errors.Is(err, io.EOF) {
			return core.Delta{}, io.ErrUnexpectedEOF
		}
		if err != nil {
			return core.Delta{}, err
		}
		if delta.Done {
			s.done = true
			return delta, nil
		}
		if emit {
			return delta, nil
		}
	}
}

func (s *deltaStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
