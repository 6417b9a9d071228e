package token

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/protocol"
)

func TestCounter_Count(t *testing.T) {
	c, err := NewCounter()
	require.NoError(t, err)

	assert.Zero(t, c.Count(""))
	assert.GreaterOrEqual(t, c.Count("hello"), 1)

	short := c.Count("one sentence")
	long := c.Count("one sentence followed by quite a few more words than before")
	assert.Greater(t, long, short)
}

func TestCounter_CountRequest(t *testing.T) {
	c, err := NewCounter()
	require.NoError(t, err)

	req := &protocol.AnthropicRequest{
		Model:  "claude-sonnet-4-20250514",
		System: json.RawMessage(`"You are terse."`),
		Messages: []protocol.AnthropicMessage{
			{Role: "user", Content: json.RawMessage(`"What is the capital of Norway?"`)},
		},
	}
	base := c.CountRequest(req)
	assert.Greater(t, base, 3, "framing overhead plus content")

	req.Messages = append(req.Messages, protocol.AnthropicMessage{
		Role:    "assistant",
		Content: json.RawMessage(`[{"type":"text","text":"Oslo."},{"type":"thinking","thinking":"Easy one."}]`),
	})
	assert.Greater(t, c.CountRequest(req), base)
}

func TestCounter_CountRequestToolBlocks(t *testing.T) {
	c, err := NewCounter()
	require.NoError(t, err)

	req := &protocol.AnthropicRequest{
		Messages: []protocol.AnthropicMessage{
			{Role: "assistant", Content: json.RawMessage(`[{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"Oslo"}}]`)},
			{Role: "user", Content: json.RawMessage(`[{"type":"tool_result","tool_use_id":"toolu_1","content":"Sunny, 18C"}]`)},
		},
	}

	empty := &protocol.AnthropicRequest{
		Messages: []protocol.AnthropicMessage{{Role: "assistant", Content: json.RawMessage(`[]`)}},
	}

	assert.Greater(t, c.CountRequest(req), c.CountRequest(empty))
}
