package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandConfigDir resolves a user-supplied directory or file path. A leading
// ~ expands to the home directory and the result is always absolute. Empty
// input stays empty so callers can treat it as "not set".
func ExpandConfigDir(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	if strings.HasPrefix(path, "~/") || path == "~" {
		homeDir, err := GetUserPath()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		if path == "~" {
			path = homeDir
		} else {
			path = filepath.Join(homeDir, path[2:])
		}
	}

	return filepath.Abs(path)
}

// GetUserPath returns the user's home directory, cleaned.
func GetUserPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Clean(homeDir), nil
}

// EnsureDir creates a directory and any missing parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
