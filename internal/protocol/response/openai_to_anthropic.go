// Package response converts complete OpenAI chat-completion replies into
// Anthropic Messages API responses. The streaming counterpart lives in the
// stream package.
package response

import (
	"strings"

	"github.com/google/uuid"

	"switchboard/internal/protocol"
)

// Options configures a conversion.
type Options struct {
	// MessageID is echoed in the response. Generated when empty.
	MessageID string
	// Model is the model name echoed back to the client, normally the one
	// the client originally asked for rather than the upstream one.
	Model string
	// DisableTokenFallback turns off output-token estimation for upstreams
	// that never report usage.
	DisableTokenFallback bool
	// TokenCounter overrides the whitespace-group estimator used by the
	// usage fallback.
	TokenCounter func(string) int
}

// Translate converts a complete upstream reply. Only the first choice is
// read. Thinking lands ahead of text the way Anthropic orders blocks, and
// refusals surface as plain text.
func Translate(resp *protocol.OpenAIResponse, opts Options) *protocol.AnthropicResponse {
	if opts.MessageID == "" {
		opts.MessageID = messageID(resp.ID)
	}

	out := &protocol.AnthropicResponse{
		ID:    opts.MessageID,
		Type:  "message",
		Role:  "assistant",
		Model: opts.Model,
	}

	var plain strings.Builder
	sawToolCall := false
	finishReason := ""

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		finishReason = choice.FinishReason

		if msg := choice.Message; msg != nil {
			if reasoning := msg.ReasoningText(); reasoning != "" {
				out.Content = append(out.Content, protocol.AnthropicContentBlock{
					Type:     protocol.BlockTypeThinking,
					Thinking: reasoning,
				})
				plain.WriteString(reasoning)
				plain.WriteByte(' ')
			}
			for _, text := range []*string{msg.Content, msg.Refusal} {
				if text == nil || strings.TrimSpace(*text) == "" {
					continue
				}
				out.Content = append(out.Content, protocol.AnthropicContentBlock{
					Type: protocol.BlockTypeText,
					Text: *text,
				})
				plain.WriteString(*text)
				plain.WriteByte(' ')
			}
			for _, tc := range msg.ToolCalls {
				sawToolCall = true
				out.Content = append(out.Content, protocol.AnthropicContentBlock{
					Type:  protocol.BlockTypeToolUse,
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: protocol.ToolArgsJSON(tc.Function.Arguments),
				})
			}
		}
	}

	if sawToolCall {
		out.StopReason = protocol.StopReasonToolUse
	} else {
		out.StopReason = protocol.MapFinishReason(finishReason)
	}

	if resp.Usage != nil {
		out.Usage.InputTokens = resp.Usage.PromptTokens
		out.Usage.OutputTokens = resp.Usage.CompletionTokens
	}
	if out.Usage.OutputTokens == 0 && !opts.DisableTokenFallback {
		out.Usage.OutputTokens = countTokens(plain.String(), opts.TokenCounter)
	}

	return out
}

// messageID reuses the upstream completion id under the native prefix, so a
// reply can be matched against provider logs. Synthesized when absent.
func messageID(foreign string) string {
	if foreign == "" {
		return "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	if rest, ok := strings.CutPrefix(foreign, "chatcmpl"); ok {
		return "msg" + rest
	}
	return foreign
}

func countTokens(s string, counter func(string) int) int {
	if counter != nil {
		return counter(s)
	}
	return len(strings.Fields(s))
}
