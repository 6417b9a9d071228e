package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"switchboard/internal/protocol"
)

// Recovery converts handler panics into Anthropic-shaped 500 responses. The
// panic value never reaches the client.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logrus.WithFields(logrus.Fields{
			"panic": recovered,
			"path":  c.Request.URL.Path,
		}).Error("handler panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			protocol.NewErrorResponse(protocol.ErrTypeAPI, "internal server error"))
	})
}
