package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"switchboard/internal/obs"
)

// usageKey is the gin context key proxy handlers use to hand their usage
// sample to the middleware.
const usageKey = "proxy.usage"

// SetUsage attaches a usage sample to the request context. The Usage
// middleware records it once the handler chain finishes.
func SetUsage(c *gin.Context, sample obs.Usage) {
	c.Set(usageKey, sample)
}

// Usage records one metrics sample per proxied request after completion.
// Duration is measured here so handlers never have to. The tracker is
// nil-safe, so the middleware is wired unconditionally.
func Usage(tracker *obs.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		v, ok := c.Get(usageKey)
		if !ok {
			return
		}
		sample, ok := v.(obs.Usage)
		if !ok {
			return
		}
		sample.Duration = time.Since(start)
		tracker.RecordUsage(c.Request.Context(), sample)
	}
}
