package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newErrorLogEngine(t *testing.T) (*ErrorLog, *gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.ReleaseMode)

	path := filepath.Join(t.TempDir(), "bad_requests.log")
	el, err := NewErrorLog(path)
	require.NoError(t, err)
	t.Cleanup(el.Stop)

	r := gin.New()
	r.Use(el.Middleware())
	r.POST("/v1/messages", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"type":  "error",
			"error": gin.H{"type": "authentication_error", "message": "bad key"},
		})
	})
	r.GET("/v1/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/v1/boom", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"broken": true})
	})
	r.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusServiceUnavailable)
	})
	r.GET("/admin", func(c *gin.Context) {
		c.Status(http.StatusBadRequest)
	})
	return el, r, path
}

func capturedLines(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestErrorLog_CapturesFailedRequest(t *testing.T) {
	_, r, path := newErrorLogEngine(t)

	reqBody := `{"model":"claude-sonnet-4-20250514","key":"sk-ant-REDACTED"}`
	w := serve(r, http.MethodPost, "/v1/messages?beta=true", reqBody)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	lines := capturedLines(t, path)
	require.Len(t, lines, 1)
	line := lines[0]

	assert.Equal(t, "POST", gjson.Get(line, "method").String())
	assert.Equal(t, "/v1/messages", gjson.Get(line, "path").String())
	assert.Equal(t, "beta=true", gjson.Get(line, "query").String())
	assert.Equal(t, int64(http.StatusUnauthorized), gjson.Get(line, "status_code").Int())
	assert.True(t, gjson.Get(line, "latency_ms").Exists())

	assert.Equal(t, "claude-sonnet-4-20250514", gjson.Get(line, "request_body.model").String())
	assert.Equal(t, "sk-***", gjson.Get(line, "request_body.key").String(), "credentials are scrubbed")
	assert.Equal(t, "authentication_error", gjson.Get(line, "response_body.error.type").String())
}

func TestErrorLog_SkipsSuccesses(t *testing.T) {
	_, r, path := newErrorLogEngine(t)

	serve(r, http.MethodGet, "/v1/ok", "")
	assert.Empty(t, capturedLines(t, path))
}

func TestErrorLog_SkipsHealthEndpoint(t *testing.T) {
	_, r, path := newErrorLogEngine(t)

	w := serve(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, capturedLines(t, path))
}

func TestErrorLog_IgnoresPathsOutsideFilter(t *testing.T) {
	_, r, path := newErrorLogEngine(t)

	w := serve(r, http.MethodGet, "/admin", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, capturedLines(t, path))
}

func TestErrorLog_TruncatesLargeBodies(t *testing.T) {
	_, r, path := newErrorLogEngine(t)

	big := strings.Repeat("a", maxCapturedBody+512)
	serve(r, http.MethodPost, "/v1/messages", big)

	lines := capturedLines(t, path)
	require.Len(t, lines, 1)

	captured := gjson.Get(lines[0], "request_body").String()
	assert.True(t, strings.HasSuffix(captured, "...(truncated)"))
	assert.LessOrEqual(t, len(captured), maxCapturedBody+len("...(truncated)"))
}

func TestErrorLog_BodyStillReachesHandler(t *testing.T) {
	gin.SetMode(gin.ReleaseMode)
	el, err := NewErrorLog(filepath.Join(t.TempDir(), "bad_requests.log"))
	require.NoError(t, err)
	t.Cleanup(el.Stop)

	var seen string
	r := gin.New()
	r.Use(el.Middleware())
	r.POST("/v1/messages", func(c *gin.Context) {
		raw, _ := c.GetRawData()
		seen = string(raw)
		c.Status(http.StatusOK)
	})

	body := `{"model":"claude-sonnet-4-20250514"}`
	serve(r, http.MethodPost, "/v1/messages", body)
	assert.Equal(t, body, seen, "the peeked body must be replayed intact")
}

func TestErrorLog_SetFilter(t *testing.T) {
	el, r, path := newErrorLogEngine(t)

	require.Error(t, el.SetFilter("StatusCode >="))
	assert.Equal(t, DefaultErrorLogFilter, el.Filter(), "a bad expression leaves the old filter active")

	require.NoError(t, el.SetFilter("StatusCode >= 500"))

	serve(r, http.MethodPost, "/v1/messages", `{}`)
	assert.Empty(t, capturedLines(t, path), "401 is below the new threshold")

	serve(r, http.MethodGet, "/v1/boom", "")
	lines := capturedLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(http.StatusInternalServerError), gjson.Get(lines[0], "status_code").Int())
}
