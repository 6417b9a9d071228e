// Package stream converts OpenAI chat-completion stream frames into
// Anthropic Messages stream events. The translator is a state machine that
// performs no I/O of its own and emits every event through a Sink.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"switchboard/internal/protocol"
)

// Sink receives each translated Anthropic event. Implementations write to
// the client connection, tee into the observation store, or collect events
// in tests.
type Sink interface {
	Event(eventType string, data []byte) error
}

// Options configures a Translator.
type Options struct {
	// MessageID is echoed in message_start. Generated when empty.
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

// UpstreamError is returned by Push when the upstream reports a failure in
// an error frame. Type carries the upstream's own error type string, which
// never reaches the client; before the preamble the caller can still answer
// with a plain HTTP error body.
type UpstreamError struct {
	Type    string
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: %s", e.Message)
}

// blockState is one Anthropic content block. Blocks stay open once started;
// deltas for distinct indices may interleave and every block is stopped at
// the terminator.
type blockState struct {
	index int
	kind  string
	open  bool

	// text or thinking content, or accumulated tool arguments
	buf strings.Builder

	toolID   string
	toolName string
}

// Translator drives the OpenAI to Anthropic stream conversion. Frames go in
// through Push, the [DONE] sentinel through Finish, transport failures
// through Fail. One translator serves exactly one upstream stream and is not
// safe for concurrent use.
type Translator struct {
	sink Sink
	opts Options

	started      bool
	done         bool
	sawToolCall  bool
	finishReason string

	blocks      []*blockState
	textBlk     *blockState
	thinkingBlk *blockState
	toolBlocks  map[int]*blockState

	inputTokens  int
	outputTokens int
}

// New returns a translator emitting into sink.
func New(sink Sink, opts Options) *Translator {
	if opts.MessageID == "" {
		opts.MessageID = "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return &Translator{
		sink:       sink,
		opts:       opts,
		toolBlocks: make(map[int]*blockState),
	}
}

// Push feeds one decoded upstream data frame into the machine. Malformed
// frames are skipped. A returned error is either a sink write failure or an
// UpstreamError when the upstream reported a failure; in the latter case, if
// the stream had already started, the terminating error event has been
// emitted before Push returns.
func (t *Translator) Push(data []byte) error {
	if t.done {
		return nil
	}

	var chunk protocol.OpenAIStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		logrus.WithError(err).Debug("skipping malformed upstream frame")
		return nil
	}

	if chunk.Error != nil {
		logrus.WithFields(logrus.Fields{
			"upstream_type": chunk.Error.Type,
			"message":       chunk.Error.Message,
		}).Warn("upstream reported an error frame")
		if t.started {
			// the foreign error type stays out of the native stream
			if err := t.Fail(protocol.ErrTypeAPI, chunk.Error.Message); err != nil {
				return err
			}
		}
		t.done = true
		return &UpstreamError{Type: chunk.Error.Type, Message: chunk.Error.Message}
	}

	if chunk.Usage != nil {
		if chunk.Usage.PromptTokens > 0 {
			t.inputTokens = chunk.Usage.PromptTokens
		}
		if chunk.Usage.CompletionTokens > 0 {
			t.outputTokens = chunk.Usage.CompletionTokens
		}
	}

	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	if reasoning := delta.ReasoningText(); reasoning != "" {
		if err := t.pushThinking(reasoning); err != nil {
			return err
		}
	}

	// refusals surface as plain text, same as the upstream intends
	for _, text := range []string{delta.Content, delta.Refusal} {
		if text == "" {
			continue
		}
		if err := t.pushText(text); err != nil {
			return err
		}
	}

	for _, tc := range delta.ToolCalls {
		if err := t.handleToolCall(tc); err != nil {
			return err
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		// recorded now, acted on at [DONE]
		t.finishReason = *choice.FinishReason
	}
	return nil
}

// Finish handles the [DONE] sentinel: closes every open block in index
// order, then emits message_delta and message_stop. Streams that never
// produced content still get a well-formed event sequence.
func (t *Translator) Finish() error {
	if t.done {
		return nil
	}
	if err := t.ensureStarted(); err != nil {
		return err
	}
	if err := t.closeAll(); err != nil {
		return err
	}

	if err := t.emit(eventTypeMessageDelta, messageDeltaEvent{
		Type:  eventTypeMessageDelta,
		Delta: messageDeltaPayload{StopReason: t.StopReason()},
		Usage: t.Usage(),
	}); err != nil {
		return err
	}
	t.done = true
	return t.emit(eventTypeMessageStop, messageStopEvent{Type: eventTypeMessageStop})
}

// Fail terminates an already-started stream with an Anthropic error event.
// Open blocks are closed first so every content_block_start stays matched;
// nothing follows the error event.
func (t *Translator) Fail(errType, message string) error {
	if t.done {
		return nil
	}
	t.done = true
	if t.started {
		if err := t.closeAll(); err != nil {
			return err
		}
	}
	return t.emit(eventTypeError, errorEvent{
		Type: eventTypeError,
		Error: protocol.ErrorDetail{
			Type:    errType,
			Message: protocol.SanitizeError(message),
		},
	})
}

// Started reports whether the preamble has been emitted.
func (t *Translator) Started() bool {
	return t.started
}

// Done reports whether the stream has terminated. Nothing is emitted after.
func (t *Translator) Done() bool {
	return t.done
}

// Usage returns the token accounting, applying the configured fallback when
// the upstream never reported completion tokens.
func (t *Translator) Usage() protocol.AnthropicUsage {
	out := t.outputTokens
	if out == 0 && !t.opts.DisableTokenFallback {
		var all strings.Builder
		for _, blk := range t.blocks {
			if blk.kind == blockTypeText || blk.kind == blockTypeThinking {
				all.WriteString(blk.buf.String())
				all.WriteByte(' ')
			}
		}
		out = t.countTokens(all.String())
	}
	return protocol.AnthropicUsage{InputTokens: t.inputTokens, OutputTokens: out}
}

// Merged reconstructs the complete content blocks seen so far, for the
// observation store.
func (t *Translator) Merged() []protocol.AnthropicContentBlock {
	var merged []protocol.AnthropicContentBlock
	for _, blk := range t.blocks {
		switch blk.kind {
		case blockTypeText:
			merged = append(merged, protocol.AnthropicContentBlock{
				Type: protocol.BlockTypeText,
				Text: blk.buf.String(),
			})
		case blockTypeThinking:
			merged = append(merged, protocol.AnthropicContentBlock{
				Type:     protocol.BlockTypeThinking,
				Thinking: blk.buf.String(),
			})
		case blockTypeToolUse:
			merged = append(merged, protocol.AnthropicContentBlock{
				Type:  protocol.BlockTypeToolUse,
				ID:    blk.toolID,
				Name:  blk.toolName,
				Input: protocol.ToolArgsJSON(blk.buf.String()),
			})
		}
	}
	return merged
}

// StopReason returns the Anthropic stop reason the terminator reports. Any
// tool call forces tool_use regardless of the upstream finish_reason.
func (t *Translator) StopReason() string {
	if t.sawToolCall {
		return protocol.StopReasonToolUse
	}
	return protocol.MapFinishReason(t.finishReason)
}

func (t *Translator) pushThinking(reasoning string) error {
	if err := t.ensureStarted(); err != nil {
		return err
	}
	blk, err := t.ensureThinking()
	if err != nil {
		return err
	}
	blk.buf.WriteString(reasoning)
	return t.emit(eventTypeContentBlockDelta, contentBlockDeltaEvent{
		Type:  eventTypeContentBlockDelta,
		Index: blk.index,
		Delta: thinkingDeltaPayload{Type: deltaTypeThinkingDelta, Thinking: reasoning},
	})
}

func (t *Translator) pushText(text string) error {
	if err := t.ensureStarted(); err != nil {
		return err
	}
	blk, err := t.ensureText()
	if err != nil {
		return err
	}
	blk.buf.WriteString(text)
	return t.emit(eventTypeContentBlockDelta, contentBlockDeltaEvent{
		Type:  eventTypeContentBlockDelta,
		Index: blk.index,
		Delta: textDeltaPayload{Type: deltaTypeTextDelta, Text: text},
	})
}

// ensureStarted emits the message_start and ping preamble ahead of the first
// content-bearing frame. Role-only and usage-only frames never trigger it.
func (t *Translator) ensureStarted() error {
	if t.started {
		return nil
	}
	t.started = true
	if err := t.emit(eventTypeMessageStart, messageStartEvent{
		Type: eventTypeMessageStart,
		Message: messagePayload{
			ID:      t.opts.MessageID,
			Type:    "message",
			Role:    "assistant",
			Content: []interface{}{},
			Model:   t.opts.Model,
		},
	}); err != nil {
		return err
	}
	return t.emit(eventTypePing, pingEvent{Type: eventTypePing})
}

func (t *Translator) newBlock(kind string) *blockState {
	blk := &blockState{index: len(t.blocks), kind: kind, open: true}
	t.blocks = append(t.blocks, blk)
	return blk
}

// ensureText opens the text block on first use. All assistant text lands in
// this one block, even when tool calls arrive in between, so a resumed text
// delta keeps its original index.
func (t *Translator) ensureText() (*blockState, error) {
	if t.textBlk != nil {
		return t.textBlk, nil
	}
	blk := t.newBlock(blockTypeText)
	t.textBlk = blk
	return blk, t.emit(eventTypeContentBlockStart, contentBlockStartEvent{
		Type:         eventTypeContentBlockStart,
		Index:        blk.index,
		ContentBlock: textBlockPayload{Type: blockTypeText, Text: ""},
	})
}

// ensureThinking opens the thinking block on first use. Reasoning normally
// precedes text, so the thinking block usually lands at index 0.
func (t *Translator) ensureThinking() (*blockState, error) {
	if t.thinkingBlk != nil {
		return t.thinkingBlk, nil
	}
	blk := t.newBlock(blockTypeThinking)
	t.thinkingBlk = blk
	return blk, t.emit(eventTypeContentBlockStart, contentBlockStartEvent{
		Type:         eventTypeContentBlockStart,
		Index:        blk.index,
		ContentBlock: thinkingBlockPayload{Type: blockTypeThinking, Thinking: ""},
	})
}

// handleToolCall opens tool_use blocks and streams argument deltas. Tool
// blocks keyed by upstream index stay open side by side so providers that
// batch parallel calls keep working. A continuation frame for an index that
// never had an opener is dropped. Some upstreams resend the full cumulative
// argument string every frame; those collapse to suffix diffs so the client
// sees each byte exactly once, while fragment upstreams pass through as-is.
func (t *Translator) handleToolCall(tc protocol.OpenAIToolCall) error {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}

	blk, exists := t.toolBlocks[idx]
	if !exists {
		if tc.ID == "" && tc.Function.Name == "" {
			logrus.WithField("tool_index", idx).Warn("tool-call continuation before opener, discarding")
			return nil
		}
		if err := t.ensureStarted(); err != nil {
			return err
		}

		blk = t.newBlock(blockTypeToolUse)
		blk.toolID = tc.ID
		if blk.toolID == "" {
			blk.toolID = fmt.Sprintf("call_%d_%d", time.Now().UnixMilli(), idx)
		}
		blk.toolName = tc.Function.Name
		if blk.toolName == "" {
			logrus.WithField("tool_index", idx).Warn("tool call opened without a name")
		}
		t.toolBlocks[idx] = blk
		t.sawToolCall = true

		if err := t.emit(eventTypeContentBlockStart, contentBlockStartEvent{
			Type:  eventTypeContentBlockStart,
			Index: blk.index,
			ContentBlock: toolUseBlockPayload{
				Type:  blockTypeToolUse,
				ID:    blk.toolID,
				Name:  blk.toolName,
				Input: json.RawMessage("{}"),
			},
		}); err != nil {
			return err
		}
	} else {
		// some providers only send id and name on later frames
		if blk.toolID == "" && tc.ID != "" {
			blk.toolID = tc.ID
		}
		if blk.toolName == "" && tc.Function.Name != "" {
			blk.toolName = tc.Function.Name
		}
	}

	if tc.Function.Arguments == "" {
		return nil
	}

	prev := blk.buf.String()
	emit := tc.Function.Arguments
	switch {
	case prev == "":
		blk.buf.WriteString(emit)
	case strings.HasPrefix(emit, prev):
		// cumulative upstream, emit only what is new
		emit = emit[len(prev):]
		blk.buf.Reset()
		blk.buf.WriteString(tc.Function.Arguments)
	case strings.HasPrefix(prev, emit):
		logrus.WithFields(logrus.Fields{
			"tool_index": idx,
			"have":       len(prev),
			"got":        len(emit),
		}).Warn("tool arguments went backwards, discarding frame")
		return nil
	default:
		// fragment upstream, the chunk is a raw piece
		blk.buf.WriteString(emit)
	}
	if emit == "" {
		return nil
	}
	return t.emit(eventTypeContentBlockDelta, contentBlockDeltaEvent{
		Type:  eventTypeContentBlockDelta,
		Index: blk.index,
		Delta: inputJSONDeltaPayload{Type: deltaTypeInputJSONDelta, PartialJSON: emit},
	})
}

func (t *Translator) closeBlock(blk *blockState) error {
	if blk == nil || !blk.open {
		return nil
	}
	blk.open = false
	return t.emit(eventTypeContentBlockStop, contentBlockStopEvent{
		Type:  eventTypeContentBlockStop,
		Index: blk.index,
	})
}

// closeAll stops every still-open block in ascending index order.
func (t *Translator) closeAll() error {
	for _, blk := range t.blocks {
		if err := t.closeBlock(blk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) emit(eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("event", eventType).Error("failed to marshal stream event")
		return nil
	}
	return t.sink.Event(eventType, data)
}

func (t *Translator) countTokens(s string) int {
	if t.opts.TokenCounter != nil {
		return t.opts.TokenCounter(s)
	}
	return len(strings.Fields(s))
}
