package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func clearConfigEnv(t *testing.T) {
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

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(BuildInfo{Version: "1.2.3", Commit: "abc1234", Date: "2025-01-02"})
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "switchboard 1.2.3")
	assert.Contains(t, out, "abc1234")
	assert.Contains(t, out, "2025-01-02")
}

func TestConfigPath(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()

	out, err := runCommand(t, "config", "path", "--config", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.json"), strings.TrimSpace(out))
}

func TestConfigGet_SanitizedJSON(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-v1-secret")
	dir := t.TempDir()

	out, err := runCommand(t, "config", "get", "--config", dir)
	require.NoError(t, err)
	assert.Equal(t, "direct", gjson.Get(out, "mode").String())
	assert.True(t, gjson.Get(out, "openrouter_key_present").Bool())
	assert.NotContains(t, out, "sk-or-v1-secret")
}

func TestConfigSet_PersistsTypedValue(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()

	out, err := runCommand(t, "config", "set", "port", "9090", "--config", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "port = 9090")

	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(9090), gjson.GetBytes(raw, "port").Int())
	assert.Equal(t, gjson.Number, gjson.GetBytes(raw, "port").Type)
}

func TestConfigSet_NestedKey(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()

	_, err := runCommand(t, "config", "set", "models.sonnet", "deepseek/deepseek-chat", "--config", dir)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, "deepseek/deepseek-chat", gjson.GetBytes(raw, "models.sonnet").String())
}

func TestConfigSet_RejectsSecrets(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()

	_, err := runCommand(t, "config", "set", "openrouter_api_key", "sk-or-v1-x", "--config", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never persisted")
}

func TestCoerceValue(t *testing.T) {
	assert.Equal(t, float64(9090), coerceValue("9090"))
	assert.Equal(t, true, coerceValue("true"))
	assert.Equal(t, "translated", coerceValue("translated"))
	assert.Equal(t,
		map[string]interface{}{"sonnet": "deepseek/deepseek-chat"},
		coerceValue(`{"sonnet":"deepseek/deepseek-chat"}`))
}
