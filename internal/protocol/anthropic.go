package protocol

import (
	"encoding/json"
	"strings"
)

// Anthropic Messages API wire types. The proxy decodes request bodies into
// these structs in translated mode; in direct mode bodies pass through as raw
// bytes and these types are only used to pull out routing metadata.

// Content block types used in Anthropic messages and responses.
const (
	BlockTypeText       = "text"
	BlockTypeThinking   = "thinking"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
	BlockTypeImage      = "image"
)

// Stop reasons the Anthropic API reports on a finished message.
const (
	StopReasonEndTurn      = "end_turn"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonToolUse      = "tool_use"
	StopReasonStopSequence = "stop_sequence"
)

// AnthropicRequest is a POST /v1/messages body.
type AnthropicRequest struct {
	Model         string               `json:"model"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Messages      []AnthropicMessage   `json:"messages"`
	System        json.RawMessage      `json:"system,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	TopK          *int                 `json:"top_k,omitempty"`
	StopSequences []string             `json:"stop_sequences,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	Tools         []AnthropicTool      `json:"tools,omitempty"`
	ToolChoice    *AnthropicToolChoice `json:"tool_choice,omitempty"`
	Metadata      *AnthropicMetadata   `json:"metadata,omitempty"`
	Thinking      json.RawMessage      `json:"thinking,omitempty"`
}

// AnthropicMessage is one conversation turn. Content is either a bare string
// or an array of content blocks; both forms are kept raw and decoded on
// demand via Blocks and PlainText.
type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// AnthropicContentBlock is the union of all block shapes. Which fields are
// populated depends on Type.
type AnthropicContentBlock struct {
	Type string `json:"type"`

	// text / thinking
	Text      string `json:"text,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image
	Source json.RawMessage `json:"source,omitempty"`
}

// AnthropicTool declares a tool the model may call.
type AnthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// AnthropicToolChoice controls tool selection ("auto", "any" or a named tool).
type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// AnthropicMetadata carries opaque caller metadata.
type AnthropicMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

// AnthropicResponse is a complete (non-streaming) Messages API response.
type AnthropicResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Model        string                  `json:"model"`
	Content      []AnthropicContentBlock `json:"content"`
	StopReason   string                  `json:"stop_reason,omitempty"`
	StopSequence *string                 `json:"stop_sequence"`
	Usage        AnthropicUsage          `json:"usage"`
}

// AnthropicUsage reports token consumption.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicCountTokensResponse is the POST /v1/messages/count_tokens reply.
type AnthropicCountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// Blocks decodes the message content into block form. A bare string becomes a
// single text block. Undecodable content yields nil.
func (m *AnthropicMessage) Blocks() []AnthropicContentBlock {
	return rawToBlocks(m.Content)
}

// PlainText flattens the message content to a single string, joining text
// blocks with single spaces. Non-text blocks are skipped.
func (m *AnthropicMessage) PlainText() string {
	return BlocksToText(m.Blocks())
}

// SystemBlocks returns the system prompt in block form, accepting both the
// bare-string and block-array encodings. Empty prompts yield nil.
func (r *AnthropicRequest) SystemBlocks() []AnthropicContentBlock {
	return rawToBlocks(r.System)
}

// ContentToText flattens any content encoding (bare string, block list or
// arbitrary JSON) to plain text.
func ContentToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if blocks := rawToBlocks(raw); blocks != nil {
		return BlocksToText(blocks)
	}
	return string(raw)
}

// BlocksToText joins the text of every text block with single spaces.
func BlocksToText(blocks []AnthropicContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == BlockTypeText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, " ")
}

func rawToBlocks(raw json.RawMessage) []AnthropicContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []AnthropicContentBlock{{Type: BlockTypeText, Text: s}}
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks
	}
	return nil
}
