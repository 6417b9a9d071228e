package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"switchboard/internal/protocol"
)

// maxBodyBytes caps inbound request bodies. Larger bodies fail with 413
// before any upstream work starts.
const maxBodyBytes = 10 << 20

// readBody drains the request body under the size cap.
func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// respondError writes an Anthropic-shaped error body. The message is
// sanitized on the way out; callers pass whatever they have.
func respondError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, protocol.NewErrorResponse(errType, protocol.SanitizeError(message)))
}

// isEventStream reports whether an upstream reply is SSE.
func isEventStream(h http.Header) bool {
	return strings.Contains(h.Get("Content-Type"), "text/event-stream")
}

// writeSSEHeaders prepares the client connection for an event stream.
func writeSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
}

// frameText renders one frame the way it is kept in observation records,
// without the trailing blank line.
func frameText(eventType string, data []byte) string {
	if eventType == "" {
		return "data: " + string(data)
	}
	return "event: " + eventType + "\ndata: " + string(data)
}
