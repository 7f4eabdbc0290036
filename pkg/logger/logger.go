// Package logger builds the process-wide slog.Logger from the environment
// name: readable text in dev, JSON in prod, errors only in test.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

type Config struct {
	Env   string // dev, prod or test
	Level string // overrides the env default when set

	AddSource        bool
	SourcePathLength int    // keep this many trailing path segments of source files
	TimeFormat       string // dev only
	Output           io.Writer
}

const defaultTimeFormat = "15:04:05.000"

// New builds a logger and installs it as the slog default
func New(config Config) (*slog.Logger, error) {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.TimeFormat == "" {
		config.TimeFormat = defaultTimeFormat
	}

	handler, err := createHandler(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create log handler: %w", err)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log, nil
}

// Must panics if logger creation fails
func Must(log *slog.Logger, err error) *slog.Logger {
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	return log
}
