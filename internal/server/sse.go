package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var errStreamingUnsupported = errors.New("streaming unsupported")

// eventStream writes server-sent events. Each event is flushed as soon as
// it is written.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// startStream sends the event-stream headers with status.
func startStream(w http.ResponseWriter, status int) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(status)
	flusher.Flush()
	return &eventStream{w: w, flusher: flusher}, nil
}

// Send writes one event. An empty name sends an unnamed message event.
// Multi-line data is split over several data fields.
func (s *eventStream) Send(name, data string) error {
	var b strings.Builder
	if name != "" {
		b.WriteString("event: ")
		b.WriteString(name)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := fmt.Fprint(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendJSON writes one event with v marshalled as its data.
func (s *eventStream) SendJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", name, err)
	}
	return s.Send(name, string(data))
}
