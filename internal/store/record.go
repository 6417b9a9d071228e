// Package store keeps an in-memory, bounded, thread-safe record of every
// proxied request and fans lifecycle events out to live subscribers.
package store

import (
	"encoding/json"
	"strconv"
	"time"

	"switchboard/internal/protocol"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Record is one observed request. Pending records have no response, no
// merged content, and a nil duration.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`

	// Model is the model the client asked for, Mode the routing decision,
	// TargetModel the upstream model when translated.
	Model       string `json:"model,omitempty"`
	Mode        string `json:"mode,omitempty"`
	TargetModel string `json:"target_model,omitempty"`
	Streaming   bool   `json:"streaming"`

	Request      RequestSnapshot   `json:"request"`
	Response     *ResponseSnapshot `json:"response,omitempty"`
	StreamChunks []StreamChunk     `json:"stream_chunks,omitempty"`
	Merged       *MergedContent    `json:"merged_content,omitempty"`
	Metrics      Metrics           `json:"metrics"`
	Status       Status            `json:"status"`
	Error        *RecordError      `json:"error,omitempty"`

	// monotonic start for duration math
	start time.Time
}

// RequestSnapshot holds the inbound request with sensitive headers masked.
type RequestSnapshot struct {
	Headers map[string][]string `json:"headers,omitempty"`
	Body    json.RawMessage     `json:"body,omitempty"`
}

// ResponseSnapshot holds the terminal response.
type ResponseSnapshot struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       json.RawMessage     `json:"body,omitempty"`
}

// StreamChunk is one observed SSE frame.
type StreamChunk struct {
	Timestamp time.Time `json:"timestamp"`
	Data      string    `json:"data"`
}

// MergedContent is the reconstructed non-streaming view of a streamed reply.
type MergedContent struct {
	CompleteText    string                           `json:"complete_text"`
	TotalCharacters int                              `json:"total_characters"`
	ToolCalls       []protocol.AnthropicContentBlock `json:"tool_calls,omitempty"`
	Blocks          []protocol.AnthropicContentBlock `json:"blocks,omitempty"`
	StopReason      string                           `json:"stop_reason,omitempty"`
	MessageComplete bool                             `json:"message_complete"`
	Timestamp       time.Time                        `json:"timestamp"`
	Usage           *protocol.AnthropicUsage         `json:"usage,omitempty"`
}

// NewMergedContent summarizes assembled content blocks. CompleteText joins
// the text blocks only; Blocks keeps full fidelity for drill-down views.
func NewMergedContent(blocks []protocol.AnthropicContentBlock, stopReason string, usage *protocol.AnthropicUsage, complete bool) *MergedContent {
	mc := &MergedContent{
		Blocks:          blocks,
		StopReason:      stopReason,
		MessageComplete: complete,
		Timestamp:       time.Now(),
		Usage:           usage,
	}
	text := ""
	for _, blk := range blocks {
		switch blk.Type {
		case protocol.BlockTypeText:
			text += blk.Text
		case protocol.BlockTypeToolUse:
			mc.ToolCalls = append(mc.ToolCalls, blk)
		}
	}
	mc.CompleteText = text
	mc.TotalCharacters = len(text)
	return mc
}

// Metrics carries per-record measurements. Pointers stay nil until the
// measurement exists.
type Metrics struct {
	DurationMs   *int64 `json:"duration_ms,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	FirstChunkMs *int64 `json:"first_chunk_ms,omitempty"`
	ChunksCount  int    `json:"chunks_count"`
	RequestSize  int    `json:"request_size"`
	ResponseSize int    `json:"response_size"`
}

// RecordError captures a terminal failure.
type RecordError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// clone deep-copies a record so readers and subscribers never observe
// later mutations.
func (r *Record) clone() *Record {
	out := *r

	out.Request.Headers = cloneHeaders(r.Request.Headers)
	out.Request.Body = cloneRaw(r.Request.Body)

	if r.Response != nil {
		resp := *r.Response
		resp.Headers = cloneHeaders(r.Response.Headers)
		resp.Body = cloneRaw(r.Response.Body)
		out.Response = &resp
	}

	if r.StreamChunks != nil {
		out.StreamChunks = make([]StreamChunk, len(r.StreamChunks))
		copy(out.StreamChunks, r.StreamChunks)
	}

	if r.Merged != nil {
		merged := *r.Merged
		merged.ToolCalls = cloneBlocks(r.Merged.ToolCalls)
		merged.Blocks = cloneBlocks(r.Merged.Blocks)
		if r.Merged.Usage != nil {
			usage := *r.Merged.Usage
			merged.Usage = &usage
		}
		out.Merged = &merged
	}

	if r.Metrics.DurationMs != nil {
		d := *r.Metrics.DurationMs
		out.Metrics.DurationMs = &d
	}
	if r.Metrics.FirstChunkMs != nil {
		f := *r.Metrics.FirstChunkMs
		out.Metrics.FirstChunkMs = &f
	}

	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}

	return &out
}

func cloneHeaders(h map[string][]string) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vs := range h {
		copied := make([]string, len(vs))
		copy(copied, vs)
		out[k] = copied
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

func cloneBlocks(blocks []protocol.AnthropicContentBlock) []protocol.AnthropicContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]protocol.AnthropicContentBlock, len(blocks))
	copy(out, blocks)
	for i := range out {
		out[i].Input = cloneRaw(blocks[i].Input)
		out[i].Content = cloneRaw(blocks[i].Content)
		out[i].Source = cloneRaw(blocks[i].Source)
	}
	return out
}

// jsonBody returns raw bytes as a JSON value, quoting payloads that are not
// valid JSON so marshaling a record never fails.
func jsonBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return cloneRaw(body)
	}
	return json.RawMessage(strconv.Quote(string(body)))
}
