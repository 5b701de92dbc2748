// SPDX-License-Identifier: MIT
package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/zmk5566/Crowd-Sonic/internal/stream"
)

// ErrNoFlusher is returned when the response writer cannot stream.
var ErrNoFlusher = errors.New("transport: response writer does not support flushing")

// SSE writes messages as Server-Sent Events. Frames are unnamed events, so
// EventSource.onmessage receives them; the stopped notice is sent as
// "event: stopped".
type SSE struct {
	w       http.ResponseWriter
	flusher http.Flusher
	buf     bytes.Buffer
}

var _ Transport = (*SSE)(nil)

// NewSSE writes the event-stream headers and flushes them.
func NewSSE(w http.ResponseWriter) (*SSE, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSE{w: w, flusher: flusher}, nil
}

// Send writes one event and flushes it.
func (s *SSE) Send(m stream.Message) error {
	var body any
	switch m.Kind {
	case stream.KindFrame:
		body = m.Frame
	case stream.KindStopped:
		body = m.Notice()
	default:
		return fmt.Errorf("transport: unknown message kind %d", m.Kind)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: encode %s event: %w", m.Kind, err)
	}

	s.buf.Reset()
	if m.Kind != stream.KindFrame {
		s.buf.WriteString("event: ")
		s.buf.WriteString(m.Kind.String())
		s.buf.WriteString("\n")
	}
	s.buf.WriteString("data: ")
	s.buf.Write(data)
	s.buf.WriteString("\n\n")
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return fmt.Errorf("transport: write %s event: %w", m.Kind, err)
	}
	s.flusher.Flush()
	return nil
}

// Close is a no-op; the HTTP handler owns the response.
func (s *SSE) Close() error { return nil }
