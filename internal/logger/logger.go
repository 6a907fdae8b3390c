package logger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and encoding of the shared zap backend
type Config struct {
	Level  string
	Format string
}

var (
	baseMu sync.RWMutex
	base   = mustBuild(Config{Level: "info", Format: "console"})
)

// Init replaces the shared backend. Loggers created before Init pick up the
// new backend on their next call.
func Init(cfg Config) error {
	zl, err := build(cfg)
	if err != nil {
		return err
	}

	baseMu.Lock()
	old := base
	base = zl
	baseMu.Unlock()

	_ = old.Sync()
	return nil
}

// Sync flushes buffered entries of the shared backend
func Sync() {
	baseMu.RLock()
	defer baseMu.RUnlock()
	_ = base.Sync()
}

func build(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.DisableStacktrace = true
	case "json":
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableCaller = true

	return zc.Build()
}

func mustBuild(cfg Config) *zap.Logger {
	zl, err := build(cfg)
	if err != nil {
		return zap.NewNop()
	}
	return zl
}

// Logger provides component-scoped logging across the application
type Logger struct {
	component string
}

// New creates a new logger for a specific component
func New(component string) *Logger {
	return &Logger{component: component}
}

// GenerateID creates a short unique identifier for request/operation tracing
func GenerateID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func (l *Logger) sugar(id string) *zap.SugaredLogger {
	baseMu.RLock()
	zl := base
	baseMu.RUnlock()
	return zl.With(zap.String("component", l.component), zap.String("id", id)).Sugar()
}

// Log writes a message at the given level ("DEBUG", "INFO", "WARN", "ERROR")
func (l *Logger) Log(id, level, message string, args ...interface{}) {
	s := l.sugar(id)
	switch strings.ToUpper(level) {
	case "DEBUG":
		s.Debugf(message, args...)
	case "WARN":
		s.Warnf(message, args...)
	case "ERROR":
		s.Errorf(message, args...)
	default:
		s.Infof(message, args...)
	}
}

// Debug logs debug level messages
func (l *Logger) Debug(id, message string, args ...interface{}) {
	l.Log(id, "DEBUG", message, args...)
}

// Info logs info level messages
func (l *Logger) Info(id, message string, args ...interface{}) {
	l.Log(id, "INFO", message, args...)
}

// Warn logs warning level messages
func (l *Logger) Warn(id, message string, args ...interface{}) {
	l.Log(id, "WARN", message, args...)
}

// Error logs error level messages
func (l *Logger) Error(id, message string, args ...interface{}) {
	l.Log(id, "ERROR", message, args...)
}

// LogWithoutID logs without an ID (for background operations)
func (l *Logger) LogWithoutID(level, message string, args ...interface{}) {
	l.Log("xxxxxxxx", level, message, args...)
}

// DebugBg logs debug messages for background operations
func (l *Logger) DebugBg(message string, args ...interface{}) {
	l.LogWithoutID("DEBUG", message, args...)
}

// InfoBg logs info messages for background operations
func (l *Logger) InfoBg(message string, args ...interface{}) {
	l.LogWithoutID("INFO", message, args...)
}

// WarnBg logs warning messages for background operations
func (l *Logger) WarnBg(message string, args ...interface{}) {
	l.LogWithoutID("WARN", message, args...)
}

// ErrorBg logs error messages for background operations
func (l *Logger) ErrorBg(message string, args ...interface{}) {
	l.LogWithoutID("ERROR", message, args...)
}
