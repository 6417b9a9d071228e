package stream

import (
	"encoding/json"

	"switchboard/internal/protocol"
)

const (
	// Anthropic event types
	eventTypeMessageStart      = "message_start"
	eventTypePing              = "ping"
	eventTypeContentBlockStart = "content_block_start"
	eventTypeContentBlockDelta = "content_block_delta"
	eventTypeContentBlockStop  = "content_block_stop"
	eventTypeMessageDelta      = "message_delta"
	eventTypeMessageStop       = "message_stop"
	eventTypeError             = "error"

	// Anthropic block types
	blockTypeText     = "text"
	blockTypeThinking = "thinking"
	blockTypeToolUse  = "tool_use"

	// Anthropic delta types
	deltaTypeTextDelta      = "text_delta"
	deltaTypeThinkingDelta  = "thinking_delta"
	deltaTypeInputJSONDelta = "input_json_delta"
	deltaTypeSignatureDelta = "signature_delta"
)

// Event payloads, marshaled onto the data: line of each SSE frame.

type messageStartEvent struct {
	Type    string         `json:"type"`
	Message messagePayload `json:"message"`
}

type messagePayload struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Content      []interface{}           `json:"content"`
	Model        string                  `json:"model"`
	StopReason   *string                 `json:"stop_reason"`
	StopSequence *string                 `json:"stop_sequence"`
	Usage        protocol.AnthropicUsage `json:"usage"`
}

type pingEvent struct {
	Type string `json:"type"`
}

type contentBlockStartEvent struct {
	Type         string      `json:"type"`
	Index        int         `json:"index"`
	ContentBlock interface{} `json:"content_block"`
}

type textBlockPayload struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type thinkingBlockPayload struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

type toolUseBlockPayload struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type contentBlockDeltaEvent struct {
	Type  string      `json:"type"`
	Index int         `json:"index"`
	Delta interface{} `json:"delta"`
}

type textDeltaPayload struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type thinkingDeltaPayload struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

type inputJSONDeltaPayload struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

type contentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaEvent struct {
	Type  string                  `json:"type"`
	Delta messageDeltaPayload     `json:"delta"`
	Usage protocol.AnthropicUsage `json:"usage"`
}

type messageDeltaPayload struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type messageStopEvent struct {
	Type string `json:"type"`
}

type errorEvent struct {
	Type  string               `json:"type"`
	Error protocol.ErrorDetail `json:"error"`
}
