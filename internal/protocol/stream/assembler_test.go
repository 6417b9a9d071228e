package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/protocol"
)

func feedEvents(a *Assembler, events ...[2]string) {
	for _, ev := range events {
		a.Record(ev[0], []byte(ev[1]))
	}
}

func TestAssembler_TextStream(t *testing.T) {
	a := NewAssembler()

	feedEvents(a,
		[2]string{"message_start", `{"type":"message_start","message":{"id":"msg_01","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[],"usage":{"input_tokens":25,"output_tokens":1}}}`},
		[2]string{"ping", `{"type":"ping"}`},
		[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`},
		[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`},
		[2]string{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":12}}`},
		[2]string{"message_stop", `{"type":"message_stop"}`},
	)

	resp := a.Response()
	require.NotNil(t, resp)
	assert.Equal(t, "msg_01", resp.ID)
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "assistant", resp.Role)
	assert.Equal(t, "claude-sonnet-4-20250514", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 25, resp.Usage.InputTokens)
	assert.Equal(t, 12, resp.Usage.OutputTokens)

	require.Len(t, resp.Content, 1)
	assert.Equal(t, protocol.BlockTypeText, resp.Content[0].Type)
	assert.Equal(t, "Hello there", resp.Content[0].Text)
}

func TestAssembler_ToolUseAccumulatesInput(t *testing.T) {
	a := NewAssembler()

	feedEvents(a,
		[2]string{"message_start", `{"message":{"id":"msg_02","role":"assistant","model":"m","usage":{"input_tokens":5}}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"text","text":""}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"text_delta","text":"Checking."}}`},
		[2]string{"content_block_stop", `{"index":0}`},
		[2]string{"content_block_start", `{"index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"get_weather","input":{}}}`},
		[2]string{"content_block_delta", `{"index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`},
		[2]string{"content_block_delta", `{"index":1,"delta":{"type":"input_json_delta","partial_json":"\"Oslo\"}"}}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":30}}`},
	)

	resp := a.Response()
	require.NotNil(t, resp)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "Checking.", resp.Content[0].Text)
	assert.Equal(t, protocol.BlockTypeToolUse, resp.Content[1].Type)
	assert.Equal(t, "toolu_01", resp.Content[1].ID)
	assert.Equal(t, "get_weather", resp.Content[1].Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, string(resp.Content[1].Input))
}

func TestAssembler_ToolUseInitialInputOnly(t *testing.T) {
	a := NewAssembler()

	feedEvents(a,
		[2]string{"message_start", `{"message":{"id":"msg_03","role":"assistant","model":"m"}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"tool_use","id":"toolu_02","name":"ping","input":{"host":"example.com"}}}`},
	)

	merged := a.Merged()
	require.Len(t, merged, 1)
	assert.JSONEq(t, `{"host":"example.com"}`, string(merged[0].Input))
}

func TestAssembler_ThinkingWithSignature(t *testing.T) {
	a := NewAssembler()

	feedEvents(a,
		[2]string{"message_start", `{"message":{"id":"msg_04","role":"assistant","model":"m"}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"thinking","thinking":""}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"thinking_delta","thinking":"step one"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"signature_delta","signature":"sig_abc"}}`},
		[2]string{"content_block_start", `{"index":1,"content_block":{"type":"text","text":""}}`},
		[2]string{"content_block_delta", `{"index":1,"delta":{"type":"text_delta","text":"Answer"}}`},
	)

	merged := a.Merged()
	require.Len(t, merged, 2)
	assert.Equal(t, protocol.BlockTypeThinking, merged[0].Type)
	assert.Equal(t, "step one", merged[0].Thinking)
	assert.Equal(t, "sig_abc", merged[0].Signature)
	assert.Equal(t, "Answer", merged[1].Text)
}

func TestAssembler_StopSequenceCaptured(t *testing.T) {
	a := NewAssembler()

	feedEvents(a,
		[2]string{"message_start", `{"message":{"id":"msg_05","role":"assistant","model":"m"}}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"stop_sequence","stop_sequence":"###"}}`},
	)

	resp := a.Response()
	require.NotNil(t, resp)
	assert.Equal(t, "stop_sequence", resp.StopReason)
	require.NotNil(t, resp.StopSequence)
	assert.Equal(t, "###", *resp.StopSequence)
}

func TestAssembler_NeverStarted(t *testing.T) {
	a := NewAssembler()
	assert.Nil(t, a.Response())

	var nilAssembler *Assembler
	assert.Nil(t, nilAssembler.Response())
}

func TestAssembler_Defaults(t *testing.T) {
	a := NewAssembler()
	a.Record("message_start", []byte(`{"message":{"id":"msg_06"}}`))

	resp := a.Response()
	require.NotNil(t, resp)
	assert.Equal(t, "assistant", resp.Role)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Nil(t, resp.StopSequence)
	assert.Empty(t, resp.Content)
}

func TestAssembler_IgnoresUnknownAndOrphans(t *testing.T) {
	a := NewAssembler()

	feedEvents(a,
		[2]string{"message_start", `{"message":{"id":"msg_07","role":"assistant","model":"m"}}`},
		[2]string{"content_block_delta", `{"index":5,"delta":{"type":"text_delta","text":"orphan"}}`},
		[2]string{"some_future_event", `{"anything":true}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"text","text":"kept"}}`},
	)

	merged := a.Merged()
	require.Len(t, merged, 1)
	assert.Equal(t, "kept", merged[0].Text)
}
