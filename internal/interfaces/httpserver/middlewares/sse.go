package middlewares

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// PrepareSSE commits a 200 text/event-stream response and flushes the headers
// so the client sees the stream open before the first event. The connection's
// write deadline is cleared since a stream outlives any request timeout.
func PrepareSSE(c *gin.Context) (http.Flusher, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})
	c.Status(http.StatusOK)
	flusher.Flush()
	return flusher, true
}
