package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// secretKeyMarkers reject patch keys that would persist a credential.
var secretKeyMarkers = []string{"key", "token", "secret", "authorization", "password"}

// Patch applies key/value updates to the config file and reloads. Keys use
// sjson path syntax, so nested fields work ("models.sonnet"). The patched
// document is validated before it replaces the file; a bad patch leaves both
// the file and the running config untouched.
func (c *Config) Patch(updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}

	c.mu.RLock()
	path := c.ConfigFile
	c.mu.RUnlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		raw = []byte("{}")
	}

	for key, value := range updates {
		if hasSecretMarker(key) {
			return &ConfigError{Field: key, Message: "API keys are read from the environment and never persisted"}
		}
		raw, err = sjson.SetBytes(raw, key, value)
		if err != nil {
			return &ConfigError{Field: key, Message: "cannot set value: " + err.Error()}
		}
	}

	trial := DefaultConfig()
	if err := json.Unmarshal(raw, trial); err != nil {
		return fmt.Errorf("patched config is not valid JSON: %w", err)
	}
	if err := trial.Validate(); err != nil {
		return err
	}

	formatted := pretty.PrettyOptions(raw, &pretty.Options{Indent: "  "})
	if err := writeFileAtomic(path, formatted); err != nil {
		return err
	}
	return c.Reload()
}

func hasSecretMarker(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
