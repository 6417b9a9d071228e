package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"switchboard/internal/config"
)

// newConfigTestServer returns the server together with its config so tests
// can observe the running values and the file on disk.
func newConfigTestServer(t *testing.T) (*Server, *config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.NewWithConfigDir(dir)
	require.NoError(t, err)
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv, cfg, filepath.Join(dir, config.ConfigFileName)
}

func TestConfigGet_NeverExposesSecrets(t *testing.T) {
	clearProxyEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-v1-supersecret")
	srv, _, _ := newConfigTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Equal(t, "direct", gjson.Get(body, "mode").String())
	assert.NotEmpty(t, gjson.Get(body, "config_file").String())
	assert.True(t, gjson.Get(body, "openrouter_key_present").Bool())
	assert.NotContains(t, body, "sk-or-v1-supersecret")
}

func TestConfigPatch_ChangesModeAndPersists(t *testing.T) {
	clearProxyEnv(t)
	srv, cfg, path := newConfigTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/config", `{"mode":"translated"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "translated", gjson.Get(w.Body.String(), "mode").String())
	assert.Equal(t, config.ModeTranslated, cfg.GetMode())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "translated", gjson.GetBytes(raw, "mode").String())
}

func TestConfigPatch_RejectsSecretKeys(t *testing.T) {
	clearProxyEnv(t)
	srv, _, path := newConfigTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/config", `{"openrouter_api_key":"sk-or-v1-abcdef"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request_error", gjson.Get(w.Body.String(), "error.type").String())
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "never persisted")

	if raw, err := os.ReadFile(path); err == nil {
		assert.NotContains(t, string(raw), "sk-or-v1-abcdef")
	}
}

func TestConfigPatch_InvalidValue(t *testing.T) {
	clearProxyEnv(t)
	srv, cfg, _ := newConfigTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/config", `{"mode":"tunnel"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, config.ModeDirect, cfg.GetMode(), "running config must be untouched")
}

func TestConfigPatch_EmptyBody(t *testing.T) {
	clearProxyEnv(t)
	srv, _, _ := newConfigTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/config", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "no fields to update")
}

func TestConfigPatch_NonObjectBody(t *testing.T) {
	clearProxyEnv(t)
	srv, _, _ := newConfigTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/config", `[1,2,3]`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "JSON object")
}
