package observability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileConfig configures the rotating log file
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// LogOutput is the destination of a run's logs: stderr plus an optional rotating file
type LogOutput struct {
	io.Writer
	file *lumberjack.Logger
}

// OpenLogOutput creates the log destination. An empty path logs to stderr only.
func OpenLogOutput(cfg LogFileConfig, stderr io.Writer) (*LogOutput, error) {
	if stderr == nil {
		stderr = os.Stderr
	}
	if cfg.Path == "" {
		return &LogOutput{Writer: stderr}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	return &LogOutput{
		Writer: io.MultiWriter(stderr, file),
		file:   file,
	}, nil
}

// Rotate forces the log file to roll over
func (o *LogOutput) Rotate() error {
	if o.file == nil {
		return nil
	}
	return o.file.Rotate()
}

// Close closes the log file, if any
func (o *LogOutput) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}
