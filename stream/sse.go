// Package stream provides autoagent.Sink implementations: SSE over HTTP and
// a colored console writer.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/martinemde/autoagent/autoagent"
)

// ErrClosed is returned by sinks that no longer accept events.
var ErrClosed = errors.New("sink closed")

// SetSSEHeaders prepares w for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
}

// SSESink writes each event as one "data: <json>\n\n" frame and flushes it.
// After the terminal frame every further Emit fails with ErrClosed.
type SSESink struct {
	w       io.Writer
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

var _ autoagent.Sink = (*SSESink)(nil)

// NewSSESink wraps w. Flushing is skipped when w is not an http.Flusher.
func NewSSESink(w io.Writer) *SSESink {
	s := &SSESink{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// Emit writes one frame.
func (s *SSESink) Emit(e autoagent.ProgressEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	if e.Terminal() {
		s.closed = true
	}
	return nil
}

// Closed reports whether the terminal frame has been written.
func (s *SSESink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
