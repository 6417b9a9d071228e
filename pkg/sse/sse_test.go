package sse

import (
	"bufio"
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string) []Event {
	t.Helper()
	r := NewReader(strings.NewReader(input))
	var events []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestReader_AnthropicFrames(t *testing.T) {
	input := "event: message_start\n" +
		"data: {\"type\":\"message_start\"}\n" +
		"\n" +
		"event: ping\n" +
		"data: {\"type\":\"ping\"}\n" +
		"\n"

	events := readAll(t, input)
	require.Len(t, events, 2)
	assert.Equal(t, "message_start", events[0].Type)
	assert.JSONEq(t, `{"type":"message_start"}`, string(events[0].Data))
	assert.Equal(t, "ping", events[1].Type)
}

func TestReader_OpenAIFrames(t *testing.T) {
	input := "data: {\"id\":\"1\"}\n\n" +
		"data: {\"id\":\"2\"}\n\n" +
		"data: [DONE]\n\n"

	events := readAll(t, input)
	require.Len(t, events, 3)
	assert.Empty(t, events[0].Type)
	assert.Equal(t, `{"id":"1"}`, string(events[0].Data))
	assert.False(t, events[1].IsDone())
	assert.True(t, events[2].IsDone())
}

func TestReader_CRLFAndNoSpace(t *testing.T) {
	input := "data:{\"a\":1}\r\n\r\ndata: {\"a\":2}\r\n\r\n"

	events := readAll(t, input)
	require.Len(t, events, 2)
	assert.Equal(t, `{"a":1}`, string(events[0].Data))
	assert.Equal(t, `{"a":2}`, string(events[1].Data))
}

func TestReader_MultiLineData(t *testing.T) {
	input := "data: line one\ndata: line two\n\n"

	events := readAll(t, input)
	require.Len(t, events, 1)
	assert.Equal(t, "line one\nline two", string(events[0].Data))
}

func TestReader_SkipsCommentsAndUnknownFields(t *testing.T) {
	input := ": keep-alive\n" +
		"id: 42\n" +
		"retry: 1000\n" +
		"data: hello\n" +
		"\n"

	events := readAll(t, input)
	require.Len(t, events, 1)
	assert.Equal(t, "hello", string(events[0].Data))
}

func TestReader_EventWithoutData(t *testing.T) {
	events := readAll(t, "event: ping\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "ping", events[0].Type)
	assert.Empty(t, events[0].Data)
}

func TestReader_TruncatedFinalFrame(t *testing.T) {
	events := readAll(t, "data: {\"partial\":true}")
	require.Len(t, events, 1)
	assert.Equal(t, `{"partial":true}`, string(events[0].Data))
}

func TestReader_BlankPadding(t *testing.T) {
	events := readAll(t, "\n\n\ndata: x\n\n\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "x", string(events[0].Data))
}

func TestReader_OversizedLine(t *testing.T) {
	input := "data: " + strings.Repeat("x", maxBufferSize+1) + "\n\n"
	r := NewReader(strings.NewReader(input))
	_, err := r.Next()
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}

func TestWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteEvent("content_block_delta", []byte(`{"index":0}`)))
	require.NoError(t, w.WriteData([]byte(`{"choices":[]}`)))
	require.NoError(t, w.WriteDone())

	events := readAll(t, buf.String())
	require.Len(t, events, 3)
	assert.Equal(t, "content_block_delta", events[0].Type)
	assert.Equal(t, `{"index":0}`, string(events[0].Data))
	assert.Empty(t, events[1].Type)
	assert.True(t, events[2].IsDone())
}

func TestWriter_DoneWireFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteDone())
	assert.Equal(t, "data: [DONE]\n\n", buf.String())
}

func TestWriter_FlushesResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	require.NoError(t, w.WriteEvent("ping", []byte(`{}`)))
	assert.True(t, rec.Flushed)
}

func TestEvent_Raw(t *testing.T) {
	ev := Event{Type: "message_stop", Data: []byte(`{"type":"message_stop"}`)}
	assert.Equal(t, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n", string(ev.Raw()))

	bare := Event{Data: []byte("a\nb")}
	assert.Equal(t, "data: a\ndata: b\n\n", string(bare.Raw()))

	parsed := readAll(t, string(ev.Raw()))
	require.Len(t, parsed, 1)
	assert.Equal(t, ev, parsed[0])
}
