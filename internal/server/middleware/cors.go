// Package middleware carries the gin middleware chain: panic recovery,
// request logging into the memory ring, the failed-request side log, usage
// metrics collection, and CORS.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS lets browser monitor pages served from other origins call the API.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Requested-With, x-api-key, anthropic-version, anthropic-beta")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		c.Writer.Header().Set("Access-Control-Max-Age", "43200")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
