package server

import (
	_ "embed"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"switchboard/internal/protocol"
)

//go:embed web/monitor.html
var monitorPage []byte

// setupStatic serves the embedded monitor page. Unknown API paths get a JSON
// 404 instead of HTML.
func (s *Server) setupStatic() {
	serve := func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", monitorPage)
	}
	s.engine.GET("/", serve)
	s.engine.GET("/monitor", serve)

	s.engine.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/v1/") {
			c.JSON(http.StatusNotFound, protocol.NewErrorResponse(protocol.ErrTypeNotFound, "endpoint not found"))
			return
		}
		serve(c)
	})
}
