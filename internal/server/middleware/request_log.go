package middleware

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"switchboard/internal/logging"
)

// RequestLog records one line per request on a private logger whose only
// output is the in-memory ring. Access logs stay out of the main log stream
// but remain visible through GET /api/monitor/logs.
func RequestLog(ring *logging.Ring) gin.HandlerFunc {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if ring != nil {
		logger.AddHook(ring)
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"status":     status,
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       path,
			"body_size":  c.Writer.Size(),
			"user_agent": c.Request.UserAgent(),
		})

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}
