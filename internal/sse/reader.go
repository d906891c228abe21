// Package sse reads server-sent event streams from vendor APIs.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const maxLineSize = 1 << 20

// Event is one dispatched SSE event. Multi-line data fields are joined with "\n".
type Event struct {
	Name string
	Data string
}

// Reader splits an event stream into events.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r. The caller keeps ownership of r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next event with a non-empty data field. It returns io.EOF
// when the stream ends cleanly; a trailing event without a blank line is still
// delivered. Comment lines (":" prefix) and retry/id fields are ignored.
func (r *Reader) Next() (Event, error) {
	var (
		name string
		data strings.Builder
		have bool
	)

	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			if have {
				return Event{Name: name, Data: data.String()}, nil
			}
			name = ""
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			name = value
		case "data":
			if have {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			have = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if have {
		return Event{Name: name, Data: data.String()}, nil
	}
	return Event{}, io.EOF
}

func splitField(line []byte) (string, string) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), ""
	}
	value := line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:idx]), strings.TrimSuffix(string(value), "\r")
}
