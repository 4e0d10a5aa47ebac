package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// sseWriter pushes server-sent events over one flusher-backed response.
// Headers are committed on the first write, so callers that have not
// written yet can still fall back to a plain JSON error.
type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
}

// newSSEWriter checks the connection can stream. It replies 500 and
// returns false when the underlying writer cannot flush.
func newSSEWriter(c *gin.Context) (*sseWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorDetail{Detail: "Streaming not supported"})
		return nil, false
	}
	return &sseWriter{c: c, flusher: flusher}, true
}

// Started reports whether any bytes have been flushed downstream.
func (w *sseWriter) Started() bool { return w.started }

func (w *sseWriter) begin() {
	if w.started {
		return
	}
	w.c.Header("Content-Type", "text/event-stream")
	w.c.Header("Cache-Control", "no-cache")
	w.c.Header("Connection", "keep-alive")
	w.c.Header("X-Accel-Buffering", "no")
	w.c.Writer.WriteHeader(http.StatusOK)
	w.started = true
}

// Event writes one named event with a JSON payload.
func (w *sseWriter) Event(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	w.begin()
	if _, err := fmt.Fprintf(w.c.Writer, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// Raw writes one pre-formatted frame, the gateway's OpenAI chunk format.
func (w *sseWriter) Raw(frame string) error {
	w.begin()
	if _, err := w.c.Writer.WriteString(frame); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
