// Package logging wires logrus for the proxy: a rotating file, optional
// console tee, and an in-memory ring the monitor API reads from.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"switchboard/pkg/fs"
)

// DefaultRingSize bounds the in-memory log ring.
const DefaultRingSize = 1000

// RotationConfig holds configuration for log rotation
type RotationConfig struct {
	Filename   string // Log file path
	MaxSize    int    // Maximum size in megabytes
	MaxBackups int    // Maximum number of old log files to retain
	MaxAge     int    // Maximum number of days to retain old log files
	Compress   bool   // Compress old log files
}

// DefaultRotationConfig returns default log rotation settings
func DefaultRotationConfig(logFile string) *RotationConfig {
	return &RotationConfig{
		Filename:   logFile,
		MaxSize:    10,   // 10 MB
		MaxBackups: 10,   // Keep 10 old log files
		MaxAge:     30,   // 30 days
		Compress:   true, // Compress rotated files
	}
}

// NewRotatingWriter creates a lumberjack writer with the given configuration.
func NewRotatingWriter(cfg *RotationConfig) io.Writer {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

// Options configures Setup.
type Options struct {
	// Level is a logrus level name. Empty means info.
	Level string
	// LogFile enables rotating file output when non-empty.
	LogFile string
	// Console also writes to stdout. File-only when false and LogFile set.
	Console bool
	// RingSize caps the in-memory ring; DefaultRingSize when zero.
	RingSize int
}

// Setup configures the global logrus logger and returns the memory ring
// serving GET /api/monitor/logs.
func Setup(opts Options) (*Ring, error) {
	level := opts.Level
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(parsed)

	writers := make([]io.Writer, 0, 2)
	if opts.Console {
		writers = append(writers, os.Stdout)
	}
	if opts.LogFile != "" {
		if err := fs.EnsureDir(filepath.Dir(opts.LogFile)); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		writers = append(writers, NewRotatingWriter(DefaultRotationConfig(opts.LogFile)))
	}
	switch len(writers) {
	case 0:
		logrus.SetOutput(os.Stdout)
	case 1:
		logrus.SetOutput(writers[0])
	default:
		logrus.SetOutput(io.MultiWriter(writers...))
	}

	size := opts.RingSize
	if size <= 0 {
		size = DefaultRingSize
	}
	ring := NewRing(size)
	logrus.AddHook(ring)

	if opts.LogFile != "" {
		logrus.WithField("path", opts.LogFile).Info("logging to rotating file")
	}
	return ring, nil
}

// SetLevel changes the global level at runtime, for config hot reload.
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(parsed)
	return nil
}
