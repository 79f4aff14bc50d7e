// Package logging provides categorized logging for docreview.
// Every category is a named child of one process-wide zap logger; until
// Initialize (or SetBase) is called all loggers are no-ops.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Boot/initialization
	CategoryConfig   Category = "config"   // Config loading and overrides
	CategoryPersonas Category = "personas" // Persona registry, stores, watcher
	CategoryGraph    Category = "graph"    // Graph compilation and swaps
	CategoryExecutor Category = "executor" // Workflow executions and node lifecycle
	CategoryGenerate Category = "generate" // Text generator calls
	CategoryServer   Category = "server"   // HTTP and websocket handlers
	CategoryRender   Category = "render"   // Feedback formatting
	CategoryExtract  Category = "extract"  // Document text extraction
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	File   string // optional; empty writes to stderr
}

// Logger is a category-scoped sugared zap logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	baseMu  sync.RWMutex
	base    = zap.NewNop()
	loggers = make(map[Category]*Logger)
)

// Initialize builds the process logger from cfg and installs it.
func Initialize(cfg Options) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if !strings.EqualFold(cfg.Format, "json") {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		zc.OutputPaths = []string{cfg.File}
		zc.ErrorOutputPaths = []string{cfg.File}
	} else {
		zc.OutputPaths = []string{"stderr"}
	}

	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	SetBase(l)

	Boot("logging initialized: level=%s format=%s file=%q", level, cfg.Format, cfg.File)
	return l, nil
}

// ParseLevel maps a config level string to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// SetBase replaces the process logger. Cached category loggers are dropped.
func SetBase(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	baseMu.Lock()
	defer baseMu.Unlock()
	base = l
	loggers = make(map[Category]*Logger)
}

// Base returns the current process logger.
func Base() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	baseMu.RLock()
	if l, ok := loggers[category]; ok {
		baseMu.RUnlock()
		return l
	}
	baseMu.RUnlock()

	baseMu.Lock()
	defer baseMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		sugar: base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Sync flushes the process logger.
func Sync() {
	_ = Base().Sync()
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a logger that attaches the given key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...)}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// Config logs to the config category
func Config(format string, args ...interface{}) {
	Get(CategoryConfig).Info(format, args...)
}

// Personas logs to the personas category
func Personas(format string, args ...interface{}) {
	Get(CategoryPersonas).Info(format, args...)
}

// PersonasDebug logs debug to the personas category
func PersonasDebug(format string, args ...interface{}) {
	Get(CategoryPersonas).Debug(format, args...)
}

// Graph logs to the graph category
func Graph(format string, args ...interface{}) {
	Get(CategoryGraph).Info(format, args...)
}

// Executor logs to the executor category
func Executor(format string, args ...interface{}) {
	Get(CategoryExecutor).Info(format, args...)
}

// ExecutorDebug logs debug to the executor category
func ExecutorDebug(format string, args ...interface{}) {
	Get(CategoryExecutor).Debug(format, args...)
}

// Generate logs to the generate category
func Generate(format string, args ...interface{}) {
	Get(CategoryGenerate).Info(format, args...)
}

// GenerateDebug logs debug to the generate category
func GenerateDebug(format string, args ...interface{}) {
	Get(CategoryGenerate).Debug(format, args...)
}

// ExtractDebug logs debug to the extract category
func ExtractDebug(format string, args ...interface{}) {
	Get(CategoryExtract).Debug(format, args...)
}
