package stream

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"switchboard/internal/protocol"
)

// Assembler reconstructs the complete Anthropic message carried by a stream
// of Messages API events. Direct mode tees every upstream frame through one
// of these so the observation store gets merged content while the wire bytes
// pass through untouched.
type Assembler struct {
	id           string
	model        string
	role         string
	stopReason   string
	stopSequence *string

	inputTokens  int
	outputTokens int

	blocks map[int]*assembledBlock
}

type assembledBlock struct {
	kind string

	// text or thinking content
	content   strings.Builder
	signature string

	toolID    string
	toolName  string
	toolInput strings.Builder
	// tool input carried on content_block_start, used when no
	// input_json_delta ever follows
	initialInput string
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{blocks: make(map[int]*assembledBlock)}
}

// Record feeds one upstream event into the assembler. Unknown event and
// delta types are ignored so API additions keep flowing through untouched.
func (a *Assembler) Record(eventType string, data []byte) {
	switch eventType {
	case eventTypeMessageStart:
		msg := gjson.GetBytes(data, "message")
		a.id = msg.Get("id").String()
		a.model = msg.Get("model").String()
		a.role = msg.Get("role").String()
		if v := msg.Get("usage.input_tokens"); v.Exists() {
			a.inputTokens = int(v.Int())
		}
		if v := msg.Get("usage.output_tokens"); v.Exists() {
			a.outputTokens = int(v.Int())
		}

	case eventTypeContentBlockStart:
		idx := int(gjson.GetBytes(data, "index").Int())
		cb := gjson.GetBytes(data, "content_block")
		blk := &assembledBlock{kind: cb.Get("type").String()}
		switch blk.kind {
		case blockTypeText:
			blk.content.WriteString(cb.Get("text").String())
		case blockTypeThinking:
			blk.content.WriteString(cb.Get("thinking").String())
			blk.signature = cb.Get("signature").String()
		case blockTypeToolUse:
			blk.toolID = cb.Get("id").String()
			blk.toolName = cb.Get("name").String()
			blk.initialInput = cb.Get("input").Raw
		}
		a.blocks[idx] = blk

	case eventTypeContentBlockDelta:
		idx := int(gjson.GetBytes(data, "index").Int())
		blk, ok := a.blocks[idx]
		if !ok {
			return
		}
		delta := gjson.GetBytes(data, "delta")
		switch delta.Get("type").String() {
		case deltaTypeTextDelta:
			blk.content.WriteString(delta.Get("text").String())
		case deltaTypeThinkingDelta:
			blk.content.WriteString(delta.Get("thinking").String())
		case deltaTypeSignatureDelta:
			blk.signature = delta.Get("signature").String()
		case deltaTypeInputJSONDelta:
			blk.toolInput.WriteString(delta.Get("partial_json").String())
		}

	case eventTypeMessageDelta:
		delta := gjson.GetBytes(data, "delta")
		if v := delta.Get("stop_reason"); v.String() != "" {
			a.stopReason = v.String()
		}
		if v := delta.Get("stop_sequence"); v.Type == gjson.String {
			s := v.String()
			a.stopSequence = &s
		}
		if v := gjson.GetBytes(data, "usage.input_tokens"); v.Int() > 0 {
			a.inputTokens = int(v.Int())
		}
		if v := gjson.GetBytes(data, "usage.output_tokens"); v.Int() > 0 {
			a.outputTokens = int(v.Int())
		}
	}
}

// Usage returns the token counts reported by the stream so far.
func (a *Assembler) Usage() protocol.AnthropicUsage {
	return protocol.AnthropicUsage{
		InputTokens:  a.inputTokens,
		OutputTokens: a.outputTokens,
	}
}

// Merged returns the content blocks collected so far in index order.
func (a *Assembler) Merged() []protocol.AnthropicContentBlock {
	indices := make([]int, 0, len(a.blocks))
	for idx := range a.blocks {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]protocol.AnthropicContentBlock, 0, len(a.blocks))
	for _, idx := range indices {
		blk := a.blocks[idx]
		switch blk.kind {
		case blockTypeText:
			out = append(out, protocol.AnthropicContentBlock{
				Type: protocol.BlockTypeText,
				Text: blk.content.String(),
			})
		case blockTypeThinking:
			out = append(out, protocol.AnthropicContentBlock{
				Type:      protocol.BlockTypeThinking,
				Thinking:  blk.content.String(),
				Signature: blk.signature,
			})
		case blockTypeToolUse:
			input := blk.toolInput.String()
			if input == "" {
				input = blk.initialInput
			}
			out = append(out, protocol.AnthropicContentBlock{
				Type:  protocol.BlockTypeToolUse,
				ID:    blk.toolID,
				Name:  blk.toolName,
				Input: protocol.ToolArgsJSON(input),
			})
		}
	}
	return out
}

// Response returns the assembled message, or nil when no message_start was
// ever seen.
func (a *Assembler) Response() *protocol.AnthropicResponse {
	if a == nil || a.id == "" {
		return nil
	}

	role := a.role
	if role == "" {
		role = "assistant"
	}
	stopReason := a.stopReason
	if stopReason == "" {
		stopReason = protocol.StopReasonEndTurn
	}

	return &protocol.AnthropicResponse{
		ID:           a.id,
		Type:         "message",
		Role:         role,
		Model:        a.model,
		Content:      a.Merged(),
		StopReason:   stopReason,
		StopSequence: a.stopSequence,
		Usage:        a.Usage(),
	}
}
