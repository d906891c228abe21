package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// eventWriter frames payloads as server-sent events. Headers are sent with
// the first event.
type eventWriter struct {
	resp    *echo.Response
	started bool
}

func newEventWriter(resp *echo.Response) *eventWriter {
	return &eventWriter{resp: resp}
}

func (w *eventWriter) writeEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if !w.started {
		h := w.resp.Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		w.resp.WriteHeader(http.StatusOK)
		w.started = true
	}

	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")

	if _, err := w.resp.Write(buf.Bytes()); err != nil {
		return err
	}
	w.resp.Flush()
	return nil
}
