package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"switchboard/internal/protocol"
)

// handleConfigGet returns the sanitized runtime configuration. Secrets never
// appear in it; the body only reports whether the upstream key is present.
func (s *Server) handleConfigGet(c *gin.Context) {
	snap, err := s.config.Snapshot()
	if err != nil {
		respondError(c, http.StatusInternalServerError, protocol.ErrTypeAPI, "failed to render configuration")
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleConfigPatch merges the posted fields into the persisted config file
// and applies the result to the running server.
func (s *Server) handleConfigPatch(c *gin.Context) {
	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		respondError(c, http.StatusBadRequest, protocol.ErrTypeInvalidRequest, "request body must be a JSON object")
		return
	}
	if len(updates) == 0 {
		respondError(c, http.StatusBadRequest, protocol.ErrTypeInvalidRequest, "no fields to update")
		return
	}

	if err := s.config.Patch(updates); err != nil {
		respondError(c, http.StatusBadRequest, protocol.ErrTypeInvalidRequest, err.Error())
		return
	}

	s.applyConfig(s.config)

	snap, err := s.config.Snapshot()
	if err != nil {
		respondError(c, http.StatusInternalServerError, protocol.ErrTypeAPI, "failed to render configuration")
		return
	}
	c.JSON(http.StatusOK, snap)
}
