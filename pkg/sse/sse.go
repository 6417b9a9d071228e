// Package sse reads and writes text/event-stream framing. It knows nothing
// about the event vocabulary on top; callers interpret Event.Data themselves.
package sse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DoneData is the sentinel data payload OpenAI-compatible streams end with.
const DoneData = "[DONE]"

const (
	initialBufferSize = 64 * 1024
	maxBufferSize     = 1024 * 1024
)

// Event is one server-sent-events frame. Type is empty for frames that carry
// only data lines (the OpenAI style).
type Event struct {
	Type string
	Data []byte
}

// IsDone reports whether the frame is the [DONE] sentinel.
func (e Event) IsDone() bool {
	return bytes.Equal(bytes.TrimSpace(e.Data), []byte(DoneData))
}

// Raw reconstructs the wire form of the frame, trailing blank line included.
func (e Event) Raw() []byte {
	var b bytes.Buffer
	if e.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", e.Type)
	}
	if len(e.Data) > 0 {
		for _, line := range bytes.Split(e.Data, []byte("\n")) {
			fmt.Fprintf(&b, "data: %s\n", line)
		}
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// Reader decodes frames from a stream. It tolerates CRLF line endings,
// comment lines and unknown fields; malformed input is skipped, never fatal.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r. The line buffer grows up to 1 MiB; longer lines surface
// as bufio.ErrTooLong from Next.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialBufferSize), maxBufferSize)
	return &Reader{scanner: scanner}
}

// Next returns the next complete frame. It returns io.EOF once the stream is
// exhausted; a frame cut off by EOF (no trailing blank line) is still
// returned first.
func (r *Reader) Next() (Event, error) {
	var ev Event
	var dataLines []string
	seen := false

	finish := func() Event {
		if len(dataLines) > 0 {
			ev.Data = []byte(strings.Join(dataLines, "\n"))
		}
		return ev
	}

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if line == "" {
			if seen {
				return finish(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		seen = true
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			d := line[len("data:"):]
			d = strings.TrimPrefix(d, " ")
			dataLines = append(dataLines, d)
		default:
			// unknown field such as id: or retry:
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if seen {
		return finish(), nil
	}
	return Event{}, io.EOF
}

// Writer encodes frames onto w, flushing after every frame when w implements
// http.Flusher (gin.ResponseWriter does).
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// WriteEvent emits an event: line followed by a data: line.
func (w *Writer) WriteEvent(eventType string, data []byte) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return err
	}
	w.flush()
	return nil
}

// WriteData emits a bare data: frame (the OpenAI style).
func (w *Writer) WriteData(data []byte) error {
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flush()
	return nil
}

// WriteDone emits the [DONE] sentinel frame.
func (w *Writer) WriteDone() error {
	return w.WriteData([]byte(DoneData))
}

// WriteRaw copies an already-framed chunk through untouched.
func (w *Writer) WriteRaw(raw []byte) error {
	if _, err := w.w.Write(raw); err != nil {
		return err
	}
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
