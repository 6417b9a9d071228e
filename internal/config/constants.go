package config

import (
	"path/filepath"
	"time"

	"switchboard/pkg/fs"
)

const (
	// ConfigDirName is the configuration directory name under the user home.
	ConfigDirName = ".switchboard"

	// ConfigFileName is the JSON file holding the persisted configuration.
	ConfigFileName = "config.json"

	LogDirName = "log"

	// LogFileName is the rotating proxy log inside LogDirName.
	LogFileName = "switchboard.log"

	// ErrorLogFileName is the side log of failed request/response pairs.
	ErrorLogFileName = "bad_requests.log"
)

// Proxy modes.
const (
	// ModeDirect forwards Messages API calls to Anthropic unchanged.
	ModeDirect = "direct"

	// ModeTranslated rewrites Messages API calls for an OpenAI-compatible
	// upstream and translates the replies back.
	ModeTranslated = "translated"
)

// Metrics exporters.
const (
	MetricsExporterStdout = "stdout"
	MetricsExporterOTLP   = "otlp"
)

const (
	// DefaultRequestTimeout bounds a single upstream call end to end.
	DefaultRequestTimeout = 120 * time.Second

	DefaultAnthropicBaseURL  = "https://api.anthropic.com"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// GetConfDir returns the config directory path (default: ~/.switchboard).
func GetConfDir() string {
	homeDir, err := fs.GetUserPath()
	if err != nil {
		// Fallback to current directory if home directory is not accessible
		return ConfigDirName
	}
	return filepath.Join(homeDir, ConfigDirName)
}

// GetLogDir returns the log directory under the config directory.
func GetLogDir() string {
	return filepath.Join(GetConfDir(), LogDirName)
}
