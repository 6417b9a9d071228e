package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"switchboard/internal/config"
	"switchboard/internal/obs"
	"switchboard/internal/protocol"
	"switchboard/internal/protocol/stream"
	"switchboard/internal/server/middleware"
	"switchboard/internal/store"
	"switchboard/pkg/sse"
)

// forwardedHeaders is the only client header set relayed upstream in direct
// mode. Hop-by-hop headers and anything else stay behind.
var forwardedHeaders = []string{
	"x-api-key",
	"authorization",
	"anthropic-version",
	"anthropic-beta",
	"user-agent",
	"content-type",
}

const defaultAnthropicVersion = "2023-06-01"

// proxyDirect forwards the request to Anthropic unchanged and relays the
// reply, teeing stream frames into the observation store.
func (s *Server) proxyDirect(c *gin.Context, id string, body []byte, model string) {
	base := s.config.GetAnthropicBaseURL()
	upstreamURL := base + c.Request.URL.RequestURI()

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		s.store.SetError(id, err.Error(), "")
		respondError(c, http.StatusInternalServerError, protocol.ErrTypeAPI, "failed to build upstream request")
		middleware.SetUsage(c, obs.Usage{Model: model, Mode: config.ModeDirect, ErrorType: "internal"})
		return
	}
	copyForwardHeaders(c.Request.Header, req.Header)

	client := s.clientPool.Get(base, s.config.GetRequestTimeout())
	resp, err := client.Do(req)
	if err != nil {
		s.failUpstream(c, id, obs.Usage{Model: model, Mode: config.ModeDirect}, err)
		return
	}
	defer resp.Body.Close()

	if isEventStream(resp.Header) {
		s.relayStream(c, id, model, resp)
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.store.SetError(id, err.Error(), "")
		respondError(c, http.StatusBadGateway, protocol.ErrTypeAPI, err.Error())
		middleware.SetUsage(c, obs.Usage{Model: model, Mode: config.ModeDirect, ErrorType: "upstream"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, respBody)

	usage := parseResponseUsage(resp.StatusCode, respBody)
	s.store.End(id, store.ResponseInfo{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
		Usage:      usage,
	})

	sample := obs.Usage{Model: model, Mode: config.ModeDirect}
	if usage != nil {
		sample.InputTokens = usage.InputTokens
		sample.OutputTokens = usage.OutputTokens
	}
	if resp.StatusCode >= 400 {
		sample.ErrorType = protocol.ErrorTypeForStatus(resp.StatusCode)
	}
	middleware.SetUsage(c, sample)
}

// relayStream copies the upstream SSE byte stream to the client unchanged
// while recording each frame and assembling the merged reply.
func (s *Server) relayStream(c *gin.Context, id string, model string, resp *http.Response) {
	writeSSEHeaders(c)
	c.Writer.WriteHeader(resp.StatusCode)
	c.Writer.Flush()

	w := sse.NewWriter(c.Writer)
	reader := sse.NewReader(resp.Body)
	asm := stream.NewAssembler()

	var (
		chunks     int
		complete   bool
		clientGone bool
		streamErr  error
	)

	for {
		ev, err := reader.Next()
		if err != nil {
			// a client disconnect cancels the upstream request, so it can
			// surface as a read error before any write fails
			if protocol.IsContextCanceled(err) {
				clientGone = true
			} else if !errors.Is(err, io.EOF) {
				streamErr = err
			}
			break
		}
		if err := w.WriteRaw(ev.Raw()); err != nil {
			clientGone = true
			break
		}
		s.store.AddChunk(id, frameText(ev.Type, ev.Data))
		asm.Record(ev.Type, ev.Data)
		chunks++
		if ev.Type == "message_stop" {
			complete = true
		}
	}

	if clientGone && chunks == 0 {
		s.store.SetError(id, "client disconnected before first event", "")
		middleware.SetUsage(c, obs.Usage{Model: model, Mode: config.ModeDirect, Streamed: true})
		return
	}

	usage := asm.Usage()
	sample := obs.Usage{
		Model:        model,
		Mode:         config.ModeDirect,
		Streamed:     true,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}

	if streamErr != nil && !clientGone {
		logrus.WithError(streamErr).WithField("request_id", id).Warn("upstream stream broke")
		msg := protocol.SanitizeError(streamErr.Error())
		if data, err := json.Marshal(protocol.NewErrorResponse(protocol.ErrTypeAPI, msg)); err == nil {
			if werr := w.WriteEvent("error", data); werr == nil {
				s.store.AddChunk(id, frameText("error", data))
			}
		}
		if blocks := asm.Merged(); len(blocks) > 0 {
			s.store.SetMerged(id, store.NewMergedContent(blocks, "", &usage, false))
		}
		s.store.SetError(id, streamErr.Error(), "")
		sample.ErrorType = "stream"
		middleware.SetUsage(c, sample)
		return
	}

	merged := asm.Merged()
	stopReason := ""
	var endBody []byte
	if full := asm.Response(); full != nil {
		stopReason = full.StopReason
		endBody, _ = json.Marshal(full)
	}
	s.store.SetMerged(id, store.NewMergedContent(merged, stopReason, &usage, complete))
	s.store.End(id, store.ResponseInfo{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       endBody,
		Usage:      &usage,
	})
	middleware.SetUsage(c, sample)
}

// failUpstream answers a transport failure that happened before any upstream
// byte reached the client.
func (s *Server) failUpstream(c *gin.Context, id string, sample obs.Usage, err error) {
	if protocol.IsContextCanceled(err) {
		s.store.SetError(id, "client disconnected before upstream reply", "")
		c.Abort()
		middleware.SetUsage(c, sample)
		return
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		s.store.SetError(id, "upstream request timed out", "")
		respondError(c, http.StatusGatewayTimeout, protocol.ErrTypeAPI, "upstream request timed out")
		sample.ErrorType = "timeout"
		middleware.SetUsage(c, sample)
		return
	}

	s.store.SetError(id, err.Error(), "")
	respondError(c, http.StatusBadGateway, protocol.ErrTypeAPI, err.Error())
	sample.ErrorType = "upstream"
	middleware.SetUsage(c, sample)
}

// copyForwardHeaders copies the curated header set and fills in the defaults
// Anthropic requires when the client omitted them.
func copyForwardHeaders(src, dst http.Header) {
	for _, name := range forwardedHeaders {
		for _, v := range src.Values(name) {
			dst.Add(name, v)
		}
	}
	if dst.Get("anthropic-version") == "" {
		dst.Set("anthropic-version", defaultAnthropicVersion)
	}
	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "application/json")
	}
}

// parseResponseUsage pulls the usage block out of a successful Messages
// response body. Nil when the body is not one.
func parseResponseUsage(status int, body []byte) *protocol.AnthropicUsage {
	if status < 200 || status >= 300 {
		return nil
	}
	var parsed protocol.AnthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	if parsed.Usage.InputTokens == 0 && parsed.Usage.OutputTokens == 0 {
		return nil
	}
	u := parsed.Usage
	return &u
}
