// Package logging builds the process logger and sanitizes what gets logged.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the registry verbosity. Each level includes the ones before it.
type Level int

const (
	LevelNothing Level = iota
	LevelErrors
	LevelWarnings
	LevelActions
	LevelDebug
	LevelSQL
)

var levelNames = []string{"nothing", "errors", "warnings", "actions", "debug", "sql"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel reads a level name. The empty string means actions.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LevelActions, nil
	}
	for i, n := range levelNames {
		if n == s {
			return Level(i), nil
		}
	}
	switch s {
	case "none", "off":
		return LevelNothing, nil
	case "error":
		return LevelErrors, nil
	case "warn", "warning":
		return LevelWarnings, nil
	case "info":
		return LevelActions, nil
	case "trace":
		return LevelSQL, nil
	}
	return LevelNothing, fmt.Errorf("unknown log level %q", s)
}

// TraceSQL reports whether SQL statements are logged.
func (l Level) TraceSQL() bool { return l >= LevelSQL }

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelErrors:
		return zapcore.ErrorLevel
	case LevelWarnings:
		return zapcore.WarnLevel
	case LevelActions:
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

// NewLogger builds a logger for the level writing to file, or to stderr when
// file is empty. LevelNothing yields a no-op logger.
func NewLogger(level Level, file string) (*zap.Logger, error) {
	if level <= LevelNothing {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	if level < LevelDebug {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	if file != "" {
		cfg.OutputPaths = []string{file}
		cfg.ErrorOutputPaths = []string{file}
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
