package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseStream writes one SSE event per frame on an open HTTP response. The
// transport status is fixed at 200 the moment the stream opens; everything
// after that travels inside frames.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// openSSE switches the response to text/event-stream. It fails only when the
// underlying writer cannot flush incrementally.
func openSSE(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseStream{w: w, flusher: flusher}, nil
}

// WriteEvent serializes v as one `data: <json>` event and flushes
// immediately so clients see frames as they are produced.
func (s *sseStream) WriteEvent(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal SSE event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
