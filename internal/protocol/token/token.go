// Package token estimates token counts for requests served in translated
// mode, where the upstream cannot count Anthropic-shaped payloads itself.
package token

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"switchboard/internal/protocol"
)

// Counter counts tokens with the O200kBase encoding. Counts are
// approximations; image blocks and tool schemas are not modeled.
type Counter struct {
	enc tokenizer.Codec
}

// NewCounter returns a counter backed by tiktoken.
func NewCounter() (*Counter, error) {
	enc, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer: %w", err)
	}
	return &Counter{enc: enc}, nil
}

// Count returns the token count of text, falling back to a character/4
// estimate when the encoder rejects the input.
func (c *Counter) Count(text string) int {
	n, err := c.enc.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// CountRequest estimates the input tokens of an Anthropic request. Roles,
// system prompts, text, thinking, and tool results are counted; a small
// constant covers the request framing.
func (c *Counter) CountRequest(req *protocol.AnthropicRequest) int {
	total := 0

	for _, blk := range req.SystemBlocks() {
		total += c.Count(blk.Text)
	}

	for _, msg := range req.Messages {
		total += c.Count(msg.Role)
		for _, blk := range msg.Blocks() {
			switch blk.Type {
			case protocol.BlockTypeText:
				total += c.Count(blk.Text)
			case protocol.BlockTypeThinking:
				total += c.Count(blk.Thinking)
			case protocol.BlockTypeToolUse:
				total += c.Count(blk.Name)
				total += c.Count(string(blk.Input))
			case protocol.BlockTypeToolResult:
				total += c.Count(protocol.ContentToText(blk.Content))
			}
		}
	}

	return total + 3
}
