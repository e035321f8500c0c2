package sse

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Writer sends Server-Sent Events to an http.ResponseWriter.
// Methods are safe for concurrent use; frames are never interleaved.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the event-stream headers and flushes them.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

// SendEvent writes a named SSE event with JSON data.
func (s *Writer) SendEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	return s.SendRaw(event, string(jsonData))
}

// SendData writes an unnamed SSE event with JSON data.
func (s *Writer) SendData(data any) error {
	return s.SendEvent("", data)
}

// SendRaw writes a named event whose payload is sent as-is.
// Multi-line payloads are split into several data lines.
func (s *Writer) SendRaw(event, data string) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return s.write(b.String())
}

// SendComment writes an SSE comment (for keep-alive pings).
func (s *Writer) SendComment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s *Writer) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return fmt.Errorf("write SSE frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
