package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"switchboard/internal/config"
	"switchboard/internal/obs"
	"switchboard/internal/protocol"
	"switchboard/internal/server/middleware"
	"switchboard/internal/store"
)

// handleMessages proxies POST /v1/messages in the configured mode.
func (s *Server) handleMessages(c *gin.Context) {
	body, ok := s.readMessageBody(c)
	if !ok {
		return
	}

	model := gjson.GetBytes(body, "model").String()
	streaming := gjson.GetBytes(body, "stream").Bool()

	mode := s.config.GetMode()
	target := model
	if mode == config.ModeTranslated {
		target = s.config.MapModel(model)
	}

	id := s.store.Start(store.StartInfo{
		Method:      c.Request.Method,
		URL:         c.Request.URL.String(),
		Headers:     c.Request.Header,
		Body:        body,
		Model:       model,
		Mode:        mode,
		TargetModel: target,
		Streaming:   streaming,
	})

	if mode == config.ModeTranslated {
		s.proxyTranslated(c, id, body, model, target)
		return
	}
	s.proxyDirect(c, id, body, model)
}

// handleCountTokens serves POST /v1/messages/count_tokens. Direct mode
// forwards to Anthropic verbatim. Translated mode answers locally because
// OpenAI-compatible upstreams have no counting endpoint.
func (s *Server) handleCountTokens(c *gin.Context) {
	body, ok := s.readMessageBody(c)
	if !ok {
		return
	}

	model := gjson.GetBytes(body, "model").String()
	mode := s.config.GetMode()

	id := s.store.Start(store.StartInfo{
		Method:      c.Request.Method,
		URL:         c.Request.URL.String(),
		Headers:     c.Request.Header,
		Body:        body,
		Model:       model,
		Mode:        mode,
		TargetModel: model,
	})

	if mode == config.ModeTranslated {
		s.countTokensLocal(c, id, body, model)
		return
	}
	s.proxyDirect(c, id, body, model)
}

// readMessageBody reads the request body up to the size cap, answering the
// client itself on failure.
func (s *Server) readMessageBody(c *gin.Context) ([]byte, bool) {
	body, err := readBody(c)
	if err != nil {
		if isBodyTooLarge(err) {
			respondError(c, http.StatusRequestEntityTooLarge, protocol.ErrTypeRequestTooLarge, "request body exceeds 10 MiB")
		} else {
			respondError(c, http.StatusBadRequest, protocol.ErrTypeInvalidRequest, "failed to read request body")
		}
		return nil, false
	}
	return body, true
}

// countTokensLocal approximates Anthropic's count_tokens with a tokenizer
// pass over the request. The count is an estimate, so no usage totals are
// attached to the record.
func (s *Server) countTokensLocal(c *gin.Context, id string, body []byte, model string) {
	var req protocol.AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.store.SetError(id, "invalid JSON body", "")
		respondError(c, http.StatusBadRequest, protocol.ErrTypeInvalidRequest, "invalid JSON body")
		return
	}

	count := s.tokens.CountRequest(&req)
	data, err := json.Marshal(protocol.AnthropicCountTokensResponse{InputTokens: count})
	if err != nil {
		s.store.SetError(id, err.Error(), "")
		respondError(c, http.StatusInternalServerError, protocol.ErrTypeAPI, "failed to encode response")
		return
	}

	c.Data(http.StatusOK, "application/json", data)
	s.store.End(id, store.ResponseInfo{
		StatusCode: http.StatusOK,
		Body:       data,
	})
	middleware.SetUsage(c, obs.Usage{
		Model: model,
		Mode:  config.ModeTranslated,
	})
}
