package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"switchboard/internal/protocol"
)

// DefaultErrorLogFilter captures every proxied or API request that failed.
const DefaultErrorLogFilter = "StatusCode >= 400 && Path matches '^/(v1|api)/'"

// maxCapturedBody bounds how much of a request or response body lands in the
// side log.
const maxCapturedBody = 4 * 1024

// FilterContext is the environment a capture expression is evaluated
// against, once per completed request.
type FilterContext struct {
	StatusCode int    `expr:"StatusCode"`
	Method     string `expr:"Method"`
	Path       string `expr:"Path"`
	Query      string `expr:"Query"`
}

// ErrorLog appends requests matching a filter expression as JSON lines to a
// rotating side log. Bodies are truncated to maxCapturedBody and credential
// substrings are scrubbed before anything is written.
type ErrorLog struct {
	mu         sync.Mutex
	out        io.WriteCloser
	program    *vm.Program
	expression string
}

// errorLogLine is one captured request.
type errorLogLine struct {
	Time         string      `json:"time"`
	Method       string      `json:"method"`
	Path         string      `json:"path"`
	Query        string      `json:"query,omitempty"`
	StatusCode   int         `json:"status_code"`
	ClientIP     string      `json:"client_ip"`
	LatencyMs    int64       `json:"latency_ms"`
	RequestBody  interface{} `json:"request_body,omitempty"`
	ResponseBody interface{} `json:"response_body,omitempty"`
}

// NewErrorLog writes captures to path with size rotation. The default filter
// matches failed /v1 and /api requests.
func NewErrorLog(path string) (*ErrorLog, error) {
	el := &ErrorLog{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
	if err := el.SetFilter(DefaultErrorLogFilter); err != nil {
		return nil, err
	}
	return el, nil
}

// SetFilter recompiles the capture expression.
func (el *ErrorLog) SetFilter(expression string) error {
	program, err := expr.Compile(expression, expr.Env(FilterContext{}))
	if err != nil {
		return fmt.Errorf("invalid error log filter %q: %w", expression, err)
	}

	el.mu.Lock()
	el.program = program
	el.expression = expression
	el.mu.Unlock()
	return nil
}

// Filter returns the active capture expression.
func (el *ErrorLog) Filter() string {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.expression
}

// Stop closes the underlying log file.
func (el *ErrorLog) Stop() {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.out != nil {
		el.out.Close()
		el.out = nil
	}
}

// Middleware returns the gin handler. Request bodies are peeked up to the
// capture bound and replayed for downstream handlers; response bodies are
// teed into a bounded buffer on the way out.
func (el *ErrorLog) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/health", "/favicon.ico", "/api/monitor/stream":
			c.Next()
			return
		}

		var reqBody []byte
		if c.Request.Body != nil {
			peeked, _ := io.ReadAll(io.LimitReader(c.Request.Body, maxCapturedBody+1))
			reqBody = peeked
			c.Request.Body = replayBody{
				Reader: io.MultiReader(bytes.NewReader(peeked), c.Request.Body),
				closer: c.Request.Body,
			}
		}

		capture := &bodyCapture{ResponseWriter: c.Writer}
		c.Writer = capture

		start := time.Now()
		c.Next()

		fctx := FilterContext{
			StatusCode: c.Writer.Status(),
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			Query:      c.Request.URL.RawQuery,
		}
		if !el.matches(fctx) {
			return
		}

		line := errorLogLine{
			Time:        time.Now().Format(time.RFC3339Nano),
			Method:      fctx.Method,
			Path:        fctx.Path,
			Query:       fctx.Query,
			StatusCode:  fctx.StatusCode,
			ClientIP:    c.ClientIP(),
			LatencyMs:   time.Since(start).Milliseconds(),
			RequestBody: captureBody(reqBody),
		}
		if fctx.StatusCode >= 400 {
			line.ResponseBody = captureBody(capture.buf.Bytes())
		}

		el.write(line)
	}
}

func (el *ErrorLog) matches(fctx FilterContext) bool {
	el.mu.Lock()
	program := el.program
	el.mu.Unlock()
	if program == nil {
		return false
	}

	output, err := expr.Run(program, fctx)
	if err != nil {
		logrus.WithError(err).Warn("error log filter evaluation failed")
		return false
	}
	matched, ok := output.(bool)
	return ok && matched
}

func (el *ErrorLog) write(line errorLogLine) {
	data, err := json.Marshal(line)
	if err != nil {
		return
	}

	el.mu.Lock()
	defer el.mu.Unlock()
	if el.out == nil {
		return
	}
	if _, err := el.out.Write(append(data, '\n')); err != nil {
		logrus.WithError(err).Warn("failed to write error log entry")
	}
}

// captureBody shapes a body for the log line. Credentials are scrubbed
// first; valid JSON within the bound is embedded as-is, anything else
// becomes a truncated string.
func captureBody(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	truncated := len(body) > maxCapturedBody
	if truncated {
		body = body[:maxCapturedBody]
	}
	text := protocol.ScrubCredentials(string(body))
	if !truncated && json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	if truncated {
		text += "...(truncated)"
	}
	return text
}

// replayBody reassembles a peeked request body for the next handler.
type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b replayBody) Close() error { return b.closer.Close() }

// bodyCapture tees response writes into a bounded buffer.
type bodyCapture struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	if w.buf.Len() < maxCapturedBody {
		room := maxCapturedBody + 1 - w.buf.Len()
		if room > len(b) {
			room = len(b)
		}
		w.buf.Write(b[:room])
	}
	return w.ResponseWriter.Write(b)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}
