// Package config owns the persisted proxy configuration: a single JSON file
// under the user config directory, environment overrides applied on load,
// and a fsnotify watcher for hot reload.
//
// API keys are never part of the file. OPENROUTER_API_KEY is read from the
// environment on every upstream call and Patch refuses to persist anything
// that looks like a credential.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"switchboard/internal/protocol/request"
	"switchboard/pkg/fs"
)

// MetricsConfig controls the optional OpenTelemetry meter.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	// Exporter is "stdout" or "otlp".
	Exporter string `json:"exporter,omitempty"`
	// Endpoint is the OTLP/HTTP collector address, host:port.
	Endpoint        string `json:"endpoint,omitempty"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
}

// Config is the runtime configuration shared across the server. All access
// goes through the accessor methods; the watcher and the config API mutate
// it concurrently with request handling.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// Mode selects direct Anthropic passthrough or OpenRouter translation.
	Mode              string `json:"mode"`
	AnthropicBaseURL  string `json:"anthropic_base_url"`
	OpenRouterBaseURL string `json:"openrouter_base_url"`
	// RequestTimeout is in seconds. Zero disables the upstream timeout.
	RequestTimeout int    `json:"request_timeout"`
	LogLevel       string `json:"log_level"`
	// LogFile overrides the default <configdir>/log/switchboard.log.
	LogFile       string `json:"log_file,omitempty"`
	StoreCapacity int    `json:"store_capacity"`
	// RetentionHours prunes observations older than this. Zero keeps records
	// until capacity eviction.
	RetentionHours       int              `json:"retention_hours,omitempty"`
	Models               request.ModelMap `json:"models"`
	BlockedTools         []string         `json:"blocked_tools,omitempty"`
	DisableTokenFallback bool             `json:"disable_token_fallback,omitempty"`
	Metrics              MetricsConfig    `json:"metrics"`

	ConfigFile string `json:"-"`

	mu sync.RWMutex
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "invalid configuration for '" + e.Field + "': " + e.Message
}

// DefaultConfig returns the configuration written on first run. The model
// map targets OpenRouter's Anthropic listings so translated mode works
// without further setup.
func DefaultConfig() *Config {
	return &Config{
		Host:              "127.0.0.1",
		Port:              8080,
		Mode:              ModeDirect,
		AnthropicBaseURL:  DefaultAnthropicBaseURL,
		OpenRouterBaseURL: DefaultOpenRouterBaseURL,
		RequestTimeout:    int(DefaultRequestTimeout / time.Second),
		LogLevel:          "info",
		StoreCapacity:     1000,
		Models: request.ModelMap{
			Haiku:   "anthropic/claude-3.5-haiku",
			Sonnet:  "anthropic/claude-sonnet-4",
			Opus:    "anthropic/claude-opus-4",
			Default: "anthropic/claude-sonnet-4",
		},
		BlockedTools: append([]string(nil), request.DefaultBlockedTools...),
		Metrics: MetricsConfig{
			Exporter:        MetricsExporterStdout,
			IntervalSeconds: 10,
		},
	}
}

// New loads (or creates) the configuration in the default directory.
func New() (*Config, error) {
	return NewWithConfigDir(GetConfDir())
}

// NewWithConfigDir loads the configuration from configDir, creating the
// directory and a default config file on first run. Environment variables
// override file values afterwards.
func NewWithConfigDir(configDir string) (*Config, error) {
	if configDir == "" {
		return nil, fmt.Errorf("config directory is empty")
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := DefaultConfig()
	cfg.ConfigFile = filepath.Join(configDir, ConfigFileName)

	if err := cfg.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := cfg.save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		logrus.WithField("path", cfg.ConfigFile).Info("created default config")
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// load reads the config file into c. Keys absent from the file keep their
// current values, so defaults survive partial configs.
func (c *Config) load() error {
	data, err := os.ReadFile(c.ConfigFile)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.ConfigFile, err)
	}
	c.normalizeLocked()
	return nil
}

// normalizeLocked backfills empty fields so configs written by older builds
// keep working. RequestTimeout is left alone: an explicit zero disables it.
func (c *Config) normalizeLocked() {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.AnthropicBaseURL == "" {
		c.AnthropicBaseURL = def.AnthropicBaseURL
	}
	if c.OpenRouterBaseURL == "" {
		c.OpenRouterBaseURL = def.OpenRouterBaseURL
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.StoreCapacity == 0 {
		c.StoreCapacity = def.StoreCapacity
	}
	if c.Metrics.Exporter == "" {
		c.Metrics.Exporter = def.Metrics.Exporter
	}
	if c.Metrics.IntervalSeconds == 0 {
		c.Metrics.IntervalSeconds = def.Metrics.IntervalSeconds
	}
}

// save writes the config atomically via a temp file and rename.
func (c *Config) save() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	path := c.ConfigFile
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables onto the loaded values.
func (c *Config) applyEnv() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env := os.Getenv("HOST"); env != "" {
		c.Host = env
	}
	if env := os.Getenv("PORT"); env != "" {
		parsed, err := strconv.Atoi(env)
		if err != nil {
			return &ConfigError{Field: "PORT", Message: "must be an integer"}
		}
		c.Port = parsed
	}
	if env := os.Getenv("PROXY_MODE"); env != "" {
		c.Mode = strings.ToLower(env)
	}
	if env := os.Getenv("ANTHROPIC_BASE_URL"); env != "" {
		c.AnthropicBaseURL = env
	}
	if env := os.Getenv("OPENROUTER_BASE_URL"); env != "" {
		c.OpenRouterBaseURL = env
	}
	if env := os.Getenv("REQUEST_TIMEOUT"); env != "" {
		parsed, err := strconv.Atoi(env)
		if err != nil {
			return &ConfigError{Field: "REQUEST_TIMEOUT", Message: "must be seconds as an integer"}
		}
		c.RequestTimeout = parsed
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		c.LogLevel = env
	}
	if env := os.Getenv("STORE_CAPACITY"); env != "" {
		parsed, err := strconv.Atoi(env)
		if err != nil {
			return &ConfigError{Field: "STORE_CAPACITY", Message: "must be an integer"}
		}
		c.StoreCapacity = parsed
	}
	return nil
}

// Validate checks field ranges. Called after load and before any patched
// file replaces the previous one.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Port <= 0 || c.Port > 65535 {
		return &ConfigError{Field: "port", Message: "must be a valid port number (1-65535)"}
	}
	switch c.Mode {
	case ModeDirect, ModeTranslated:
	default:
		return &ConfigError{Field: "mode", Message: `must be "direct" or "translated"`}
	}
	if c.RequestTimeout < 0 {
		return &ConfigError{Field: "request_timeout", Message: "must be zero or positive seconds"}
	}
	if c.StoreCapacity <= 0 {
		return &ConfigError{Field: "store_capacity", Message: "must be a positive integer"}
	}
	if c.RetentionHours < 0 {
		return &ConfigError{Field: "retention_hours", Message: "must be zero or positive hours"}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return &ConfigError{Field: "log_level", Message: "must be a logrus level (trace, debug, info, warn, error)"}
	}
	switch c.Metrics.Exporter {
	case "", MetricsExporterStdout, MetricsExporterOTLP:
	default:
		return &ConfigError{Field: "metrics.exporter", Message: `must be "stdout" or "otlp"`}
	}
	return nil
}

// Reload re-reads the config file and re-applies environment overrides.
func (c *Config) Reload() error {
	if err := c.load(); err != nil {
		return err
	}
	if err := c.applyEnv(); err != nil {
		return err
	}
	return c.Validate()
}

// Path returns the backing config file path.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ConfigFile
}

func (c *Config) GetHost() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Host
}

func (c *Config) GetPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Port
}

// Address returns the host:port the server binds to.
func (c *Config) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) GetMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Mode
}

func (c *Config) GetAnthropicBaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.TrimRight(c.AnthropicBaseURL, "/")
}

func (c *Config) GetOpenRouterBaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.TrimRight(c.OpenRouterBaseURL, "/")
}

// GetRequestTimeout returns the upstream timeout. Zero means no timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *Config) GetLogLevel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LogLevel
}

// LogFilePath resolves the log file location, expanding ~ in configured
// paths and defaulting to the log directory next to the config file.
func (c *Config) LogFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.LogFile != "" {
		if expanded, err := fs.ExpandConfigDir(c.LogFile); err == nil {
			return expanded
		}
		return c.LogFile
	}
	return filepath.Join(filepath.Dir(c.ConfigFile), LogDirName, LogFileName)
}

// ErrorLogPath is the side log for failed requests, next to the main log.
func (c *Config) ErrorLogPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filepath.Join(filepath.Dir(c.ConfigFile), LogDirName, ErrorLogFileName)
}

func (c *Config) GetStoreCapacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.StoreCapacity
}

// GetRetention returns how long observations are kept. Zero means until
// capacity eviction.
func (c *Config) GetRetention() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c *Config) GetModels() request.ModelMap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Models
}

// MapModel resolves the upstream model for translated mode.
func (c *Config) MapModel(model string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return request.MapModel(model, c.Models)
}

func (c *Config) GetBlockedTools() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.BlockedTools...)
}

func (c *Config) TokenFallbackDisabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DisableTokenFallback
}

func (c *Config) GetMetrics() MetricsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Metrics
}

// SetHost overrides the bind host for this process only.
func (c *Config) SetHost(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Host = host
}

// SetPort overrides the bind port for this process only.
func (c *Config) SetPort(port int) error {
	if port <= 0 || port > 65535 {
		return &ConfigError{Field: "port", Message: "must be a valid port number (1-65535)"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Port = port
	return nil
}

// SetMode overrides the proxy mode for this process only.
func (c *Config) SetMode(mode string) error {
	mode = strings.ToLower(mode)
	switch mode {
	case ModeDirect, ModeTranslated:
	default:
		return &ConfigError{Field: "mode", Message: `must be "direct" or "translated"`}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Mode = mode
	return nil
}

// SetLogLevel overrides the log level for this process only.
func (c *Config) SetLogLevel(level string) error {
	if _, err := logrus.ParseLevel(level); err != nil {
		return &ConfigError{Field: "log_level", Message: "must be a logrus level (trace, debug, info, warn, error)"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogLevel = level
	return nil
}

// Snapshot returns the running configuration as a generic map for the
// config API. The config never holds secrets; the only environment-derived
// field is whether the OpenRouter key is present at all.
func (c *Config) Snapshot() (map[string]interface{}, error) {
	c.mu.RLock()
	data, err := json.Marshal(c)
	path := c.ConfigFile
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	out["config_file"] = path
	out["openrouter_key_present"] = os.Getenv("OPENROUTER_API_KEY") != ""
	return out, nil
}
