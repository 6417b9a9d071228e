package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"switchboard/internal/config"
	"switchboard/internal/obs"
	"switchboard/internal/protocol"
	"switchboard/internal/protocol/request"
	"switchboard/internal/protocol/response"
	"switchboard/internal/protocol/stream"
	"switchboard/internal/server/middleware"
	"switchboard/internal/store"
	"switchboard/pkg/sse"
)

// openRouterKeyEnv is the only place the upstream credential lives. It is
// read fresh per request and never written anywhere.
const openRouterKeyEnv = "OPENROUTER_API_KEY"

// maxErrorBodyBytes caps how much of an upstream error reply is read.
const maxErrorBodyBytes = 64 << 10

// proxyTranslated rewrites the request for an OpenAI-compatible upstream and
// translates the reply back into Messages API shape.
func (s *Server) proxyTranslated(c *gin.Context, id string, body []byte, model, target string) {
	sample := obs.Usage{Model: target, RequestModel: model, Mode: config.ModeTranslated}

	var anthReq protocol.AnthropicRequest
	if err := json.Unmarshal(body, &anthReq); err != nil {
		s.store.SetError(id, "invalid JSON body", "")
		respondError(c, http.StatusBadRequest, protocol.ErrTypeInvalidRequest, "invalid JSON body")
		sample.ErrorType = protocol.ErrTypeInvalidRequest
		middleware.SetUsage(c, sample)
		return
	}

	key := os.Getenv(openRouterKeyEnv)
	if key == "" {
		s.store.SetError(id, openRouterKeyEnv+" is not set", "")
		respondError(c, http.StatusUnauthorized, protocol.ErrTypeAuthentication, openRouterKeyEnv+" is not set")
		sample.ErrorType = protocol.ErrTypeAuthentication
		middleware.SetUsage(c, sample)
		return
	}

	oaReq, err := request.Translate(&anthReq, request.Options{
		Models:       s.config.GetModels(),
		BlockedTools: s.config.GetBlockedTools(),
	})
	if err != nil {
		s.store.SetError(id, err.Error(), "")
		respondError(c, http.StatusBadRequest, protocol.ErrTypeInvalidRequest, err.Error())
		sample.ErrorType = protocol.ErrTypeInvalidRequest
		middleware.SetUsage(c, sample)
		return
	}

	payload, err := json.Marshal(oaReq)
	if err != nil {
		s.store.SetError(id, err.Error(), "")
		respondError(c, http.StatusInternalServerError, protocol.ErrTypeAPI, "failed to encode upstream request")
		sample.ErrorType = "internal"
		middleware.SetUsage(c, sample)
		return
	}

	base := s.config.GetOpenRouterBaseURL()
	upstreamReq, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, base+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		s.store.SetError(id, err.Error(), "")
		respondError(c, http.StatusInternalServerError, protocol.ErrTypeAPI, "failed to build upstream request")
		sample.ErrorType = "internal"
		middleware.SetUsage(c, sample)
		return
	}
	upstreamReq.Header.Set("Content-Type", "application/json")
	upstreamReq.Header.Set("Authorization", "Bearer "+key)

	client := s.clientPool.Get(base, s.config.GetRequestTimeout())
	resp, err := client.Do(upstreamReq)
	if err != nil {
		s.failUpstream(c, id, sample, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.relayUpstreamError(c, id, sample, resp)
		return
	}

	if isEventStream(resp.Header) {
		s.translateStream(c, id, sample, model, resp)
		return
	}
	s.translateResponse(c, id, sample, model, resp)
}

// relayUpstreamError maps a non-2xx upstream reply onto the Anthropic error
// envelope, keeping the upstream status.
func (s *Server) relayUpstreamError(c *gin.Context, id string, sample obs.Usage, resp *http.Response) {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	message := gjson.GetBytes(raw, "error.message").String()
	if message == "" {
		message = gjson.GetBytes(raw, "error").String()
	}
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	if message == "" {
		message = resp.Status
	}

	errType := protocol.ErrorTypeForStatus(resp.StatusCode)
	respondError(c, resp.StatusCode, errType, message)

	s.store.SetError(id, message, "")
	s.store.End(id, store.ResponseInfo{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       raw,
	})

	sample.ErrorType = errType
	middleware.SetUsage(c, sample)
}

// streamSink delivers each translated frame to the client and tees it into
// the observation store. The SSE response is committed lazily on the first
// event, leaving the status line free for a plain error reply while nothing
// has been emitted. An Event error always means the client is gone.
type streamSink struct {
	c      *gin.Context
	w      *sse.Writer
	store  *store.Store
	id     string
	events int
}

func (ss *streamSink) Event(eventType string, data []byte) error {
	if ss.events == 0 {
		writeSSEHeaders(ss.c)
		ss.c.Writer.WriteHeader(http.StatusOK)
	}
	if err := ss.w.WriteEvent(eventType, data); err != nil {
		return err
	}
	ss.store.AddChunk(ss.id, frameText(eventType, data))
	ss.events++
	return nil
}

// translateStream converts the upstream chat-completions stream into
// Anthropic events on the fly. The [DONE] sentinel is consumed, never
// forwarded.
func (s *Server) translateStream(c *gin.Context, id string, sample obs.Usage, model string, resp *http.Response) {
	msgID := "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	sink := &streamSink{c: c, w: sse.NewWriter(c.Writer), store: s.store, id: id}
	tr := stream.New(sink, stream.Options{
		MessageID:            msgID,
		Model:                model,
		DisableTokenFallback: s.config.TokenFallbackDisabled(),
		TokenCounter:         s.tokens.Count,
	})

	reader := sse.NewReader(resp.Body)
	sample.Streamed = true

	var (
		clientGone bool
		streamErr  error
	)

	for {
		ev, err := reader.Next()
		if err != nil {
			if protocol.IsContextCanceled(err) {
				clientGone = true
			} else if !errors.Is(err, io.EOF) {
				streamErr = err
			}
			break
		}
		if ev.IsDone() {
			break
		}
		if len(ev.Data) == 0 {
			continue
		}
		if err := tr.Push(ev.Data); err != nil {
			var ue *stream.UpstreamError
			if !errors.As(err, &ue) {
				clientGone = true
				break
			}
			if !tr.Started() {
				// upstream failed before anything reached the client, so a
				// plain error body is still possible
				s.store.SetError(id, ue.Message, "")
				respondError(c, http.StatusBadGateway, protocol.ErrTypeAPI, ue.Message)
				sample.ErrorType = "upstream"
				middleware.SetUsage(c, sample)
				return
			}
			// the stream already carried the error event
			usage := tr.Usage()
			s.store.SetMerged(id, store.NewMergedContent(tr.Merged(), tr.StopReason(), &usage, false))
			s.store.SetError(id, ue.Message, "")
			sample.InputTokens = usage.InputTokens
			sample.OutputTokens = usage.OutputTokens
			sample.ErrorType = "upstream"
			middleware.SetUsage(c, sample)
			return
		}
	}

	if clientGone && sink.events == 0 {
		s.store.SetError(id, "client disconnected before first event", "")
		middleware.SetUsage(c, sample)
		return
	}

	if streamErr != nil && !clientGone {
		if !tr.Started() {
			s.failUpstream(c, id, sample, streamErr)
			return
		}
		_ = tr.Fail(protocol.ErrTypeAPI, streamErr.Error())
		usage := tr.Usage()
		s.store.SetMerged(id, store.NewMergedContent(tr.Merged(), tr.StopReason(), &usage, false))
		s.store.SetError(id, streamErr.Error(), "")
		sample.InputTokens = usage.InputTokens
		sample.OutputTokens = usage.OutputTokens
		sample.ErrorType = "stream"
		middleware.SetUsage(c, sample)
		return
	}

	if !clientGone && !tr.Done() {
		if err := tr.Finish(); err != nil {
			clientGone = true
		}
	}

	usage := tr.Usage()
	merged := tr.Merged()
	stopReason := tr.StopReason()
	s.store.SetMerged(id, store.NewMergedContent(merged, stopReason, &usage, tr.Done()))

	synthetic := &protocol.AnthropicResponse{
		ID:         msgID,
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    merged,
		StopReason: stopReason,
		Usage:      usage,
	}
	endBody, _ := json.Marshal(synthetic)
	s.store.End(id, store.ResponseInfo{
		StatusCode: http.StatusOK,
		Headers:    resp.Header,
		Body:       endBody,
		Usage:      &usage,
	})

	sample.InputTokens = usage.InputTokens
	sample.OutputTokens = usage.OutputTokens
	middleware.SetUsage(c, sample)
}

// translateResponse converts a buffered chat-completions reply into a
// Messages API response.
func (s *Server) translateResponse(c *gin.Context, id string, sample obs.Usage, model string, resp *http.Response) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		s.store.SetError(id, err.Error(), "")
		respondError(c, http.StatusBadGateway, protocol.ErrTypeAPI, err.Error())
		sample.ErrorType = "upstream"
		middleware.SetUsage(c, sample)
		return
	}

	var oaResp protocol.OpenAIResponse
	if err := json.Unmarshal(raw, &oaResp); err != nil {
		s.store.SetError(id, "invalid JSON from upstream", "")
		respondError(c, http.StatusBadGateway, protocol.ErrTypeAPI, "invalid JSON from upstream")
		sample.ErrorType = "upstream"
		middleware.SetUsage(c, sample)
		return
	}

	// Some OpenAI-compatible providers report failures inside a 200 body.
	if oaResp.Error != nil {
		s.store.SetError(id, oaResp.Error.Message, "")
		s.store.End(id, store.ResponseInfo{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Body:       raw,
		})
		respondError(c, http.StatusBadGateway, protocol.ErrTypeAPI, oaResp.Error.Message)
		sample.ErrorType = "upstream"
		middleware.SetUsage(c, sample)
		return
	}

	anthResp := response.Translate(&oaResp, response.Options{
		Model:                model,
		DisableTokenFallback: s.config.TokenFallbackDisabled(),
		TokenCounter:         s.tokens.Count,
	})

	data, err := json.Marshal(anthResp)
	if err != nil {
		s.store.SetError(id, err.Error(), "")
		respondError(c, http.StatusInternalServerError, protocol.ErrTypeAPI, "failed to encode response")
		sample.ErrorType = "internal"
		middleware.SetUsage(c, sample)
		return
	}

	c.Data(http.StatusOK, "application/json", data)

	usage := anthResp.Usage
	s.store.End(id, store.ResponseInfo{
		StatusCode: http.StatusOK,
		Headers:    resp.Header,
		Body:       data,
		Usage:      &usage,
	})

	sample.InputTokens = usage.InputTokens
	sample.OutputTokens = usage.OutputTokens
	middleware.SetUsage(c, sample)
}
