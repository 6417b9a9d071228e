package protocol

import (
	"encoding/json"
	"strconv"

	"github.com/sirupsen/logrus"
)

// OpenAI chat-completions wire types, as spoken by OpenRouter. Only the
// fields the proxy reads or writes are declared; unknown fields fall away
// on decode.

// Finish reasons OpenAI-compatible upstreams report.
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonToolCalls     = "tool_calls"
	FinishReasonFunctionCall  = "function_call"
	FinishReasonContentFilter = "content_filter"
	FinishReasonSafety        = "safety"
)

// MapFinishReason converts an OpenAI finish_reason to an Anthropic
// stop_reason.
func MapFinishReason(finishReason string) string {
	switch finishReason {
	case FinishReasonStop, "":
		return StopReasonEndTurn
	case FinishReasonLength:
		return StopReasonMaxTokens
	case FinishReasonToolCalls, FinishReasonFunctionCall:
		return StopReasonToolUse
	case FinishReasonContentFilter, FinishReasonSafety:
		return StopReasonStopSequence
	default:
		logrus.WithField("finish_reason", finishReason).Warn("unrecognized finish_reason, defaulting to end_turn")
		return StopReasonEndTurn
	}
}

// ToolArgsJSON returns accumulated tool-call arguments as a raw JSON value,
// quoting them when the upstream never produced a parseable one.
func ToolArgsJSON(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	return json.RawMessage(strconv.Quote(args))
}

// OpenAIRequest is a POST /chat/completions body.
type OpenAIRequest struct {
	Model         string               `json:"model"`
	Messages      []OpenAIMessage      `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	Stop          []string             `json:"stop,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *OpenAIStreamOptions `json:"stream_options,omitempty"`
	Tools         []OpenAITool         `json:"tools,omitempty"`
	ToolChoice    interface{}          `json:"tool_choice,omitempty"`
	User          string               `json:"user,omitempty"`
}

// OpenAIStreamOptions tunes streaming behavior.
type OpenAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// OpenAIMessage is one chat message. Content stays a plain string; the
// translator flattens Anthropic block lists before building these.
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// OpenAIToolCall appears on assistant messages and stream deltas. Index is
// only present on deltas.
type OpenAIToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall names a function and carries its JSON-encoded arguments.
type OpenAIFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// OpenAITool declares a callable function.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction is the function payload of a tool declaration.
type OpenAIFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// OpenAIFunctionChoice forces a specific tool via tool_choice.
type OpenAIFunctionChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

// OpenAIResponse is a complete (non-streaming) chat-completions reply.
type OpenAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
	Error   *OpenAIError   `json:"error,omitempty"`
}

// OpenAIChoice is one completion alternative.
type OpenAIChoice struct {
	Index        int                  `json:"index"`
	Message      *OpenAIChoiceMessage `json:"message,omitempty"`
	FinishReason string               `json:"finish_reason,omitempty"`
}

// OpenAIChoiceMessage is the assistant message of a non-streaming choice.
// Content is nullable when the reply is tool calls only.
type OpenAIChoiceMessage struct {
	Role             string           `json:"role"`
	Content          *string          `json:"content"`
	Refusal          *string          `json:"refusal,omitempty"`
	Reasoning        string           `json:"reasoning,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []OpenAIToolCall `json:"tool_calls,omitempty"`
}

// ReasoningText returns whichever reasoning spelling the upstream used.
func (m *OpenAIChoiceMessage) ReasoningText() string {
	if m.Reasoning != "" {
		return m.Reasoning
	}
	return m.ReasoningContent
}

// OpenAIStreamChunk is one decoded SSE data frame of a streaming reply.
type OpenAIStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []OpenAIStreamChoice `json:"choices"`
	Usage   *OpenAIUsage         `json:"usage,omitempty"`
	Error   *OpenAIError         `json:"error,omitempty"`
}

// OpenAIStreamChoice carries the delta of one streaming choice.
type OpenAIStreamChoice struct {
	Index        int         `json:"index"`
	Delta        OpenAIDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// OpenAIDelta is the incremental payload of a stream frame. Reasoning and
// ReasoningContent are OpenRouter/DeepSeek spellings of the same thing.
type OpenAIDelta struct {
	Role             string           `json:"role,omitempty"`
	Content          string           `json:"content,omitempty"`
	Refusal          string           `json:"refusal,omitempty"`
	Reasoning        string           `json:"reasoning,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []OpenAIToolCall `json:"tool_calls,omitempty"`
}

// ReasoningText returns whichever reasoning spelling the upstream used.
func (d *OpenAIDelta) ReasoningText() string {
	if d.Reasoning != "" {
		return d.Reasoning
	}
	return d.ReasoningContent
}

// OpenAIUsage reports token consumption.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIError is the error payload OpenAI-compatible upstreams embed in
// response bodies and stream frames.
type OpenAIError struct {
	Message string      `json:"message"`
	Type    string      `json:"type,omitempty"`
	Code    interface{} `json:"code,omitempty"`
}
