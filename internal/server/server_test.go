package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"switchboard/internal/config"
	"switchboard/internal/store"
)

// clearProxyEnv blanks every variable the config reads so ambient values
// never leak into assertions. t.Setenv restores them afterwards.
func clearProxyEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HOST", "PORT", "PROXY_MODE",
		"ANTHROPIC_BASE_URL", "OPENROUTER_BASE_URL",
		"REQUEST_TIMEOUT", "LOG_LEVEL", "STORE_CAPACITY",
		"OPENROUTER_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

// newTestServer builds a server over a throwaway config dir. Env overrides
// must be set before the call because the config reads them once.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerDir(t, t.TempDir())
}

// newTestServerDir builds a server over an existing config dir, so tests can
// seed a config file first.
func newTestServerDir(t *testing.T, dir string) *Server {
	t.Helper()
	cfg, err := config.NewWithConfigDir(dir)
	require.NoError(t, err)

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

// doRequest runs one request through the full middleware chain.
func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(w, req)
	return w
}

// waitForSubscriber blocks until the store has a live event subscriber.
func waitForSubscriber(t *testing.T, st *store.Store) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st.SubscriberCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscriber never registered")
}

func TestHealth(t *testing.T) {
	clearProxyEnv(t)
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, config.ModeDirect, health.Mode)
	assert.NotEmpty(t, health.Uptime)
}

func TestHealth_ReportsVersion(t *testing.T) {
	clearProxyEnv(t)
	cfg, err := config.NewWithConfigDir(t.TempDir())
	require.NoError(t, err)

	srv, err := NewServer(cfg, WithVersion("1.2.3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	w := doRequest(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.2.3", gjson.Get(w.Body.String(), "version").String())
}

func TestNoRoute_APIPathsGetJSON(t *testing.T) {
	clearProxyEnv(t)
	srv := newTestServer(t)

	for _, path := range []string{"/api/monitor/nope", "/v1/other"} {
		w := doRequest(t, srv, http.MethodGet, path, "")
		require.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "error", gjson.Get(w.Body.String(), "type").String(), path)
		assert.Equal(t, "not_found_error", gjson.Get(w.Body.String(), "error.type").String(), path)
	}
}

func TestNoRoute_OtherPathsServeMonitorPage(t *testing.T) {
	clearProxyEnv(t)
	srv := newTestServer(t)

	for _, path := range []string{"/", "/monitor", "/anything-else"} {
		w := doRequest(t, srv, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html", path)
		assert.Contains(t, w.Body.String(), "Switchboard", path)
	}
}

func TestCORSPreflight(t *testing.T) {
	clearProxyEnv(t)
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/messages", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "anthropic-version")
}

func TestMessages_BodyTooLarge(t *testing.T) {
	clearProxyEnv(t)
	srv := newTestServer(t)

	big := strings.Repeat("x", maxBodyBytes+1)
	w := doRequest(t, srv, http.MethodPost, "/v1/messages", big)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "request_too_large", gjson.Get(w.Body.String(), "error.type").String())
	assert.Zero(t, srv.Store().Len(), "oversized bodies never become records")
}
