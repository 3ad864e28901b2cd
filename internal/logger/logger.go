package logger

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// process-wide fallback logger
var defaultLogger atomic.Pointer[Logger]

// ValidLogLevels enumerates the levels accepted in configuration.
var ValidLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// LoggingConfig is the slice of the application configuration the logger
// package needs. Defined here so the config package stays import-free of us.
type LoggingConfig interface {
	GetComponentLevel(component string) string
	GetDefaultLevel() string
	IsDevelopment() bool
}

// Logger wraps zap.SugaredLogger to provide a consistent logging interface
// across the project. It provides both structured logging (with fields) and
// printf-style logging methods.
type Logger struct {
	*zap.SugaredLogger
	atomicLevel zap.AtomicLevel
	component   string
}

// NewLogger creates a new logger with the specified configuration.
// level can be "debug", "info", "warn", "error".
// development mode enables stack traces and uses the console encoder.
func NewLogger(level string, development bool) (*Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: zapLogger.Sugar(), atomicLevel: config.Level}, nil
}

// NewComponentLogger creates a standalone logger tagged with a component
// name. It panics on an invalid level, so it is meant for wiring code where
// the level has already been validated.
func NewComponentLogger(component, level string, development bool) *Logger {
	l, err := NewLogger(level, development)
	if err != nil {
		panic(fmt.Sprintf("logger: component %q: %v", component, err))
	}
	return l.WithComponent(component)
}

// NewComponentLoggerFromConfig creates a component logger using the
// component-level override from the configuration, falling back to the
// default level. A nil config yields a production logger at info level.
func NewComponentLoggerFromConfig(component string, cfg LoggingConfig) *Logger {
	level := "info"
	development := false
	if cfg != nil {
		level = cfg.GetComponentLevel(component)
		development = cfg.IsDevelopment()
	}
	return NewComponentLogger(component, level, development)
}

// NewNopLogger creates a no-op logger that discards all logs.
// Useful for testing.
func NewNopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), atomicLevel: zap.NewAtomicLevel()}
}

// WithComponent creates a child logger with a component name field.
// The child shares the parent's atomic level. A logger already tagged with
// the requested component is returned unchanged, so constructors can tag
// themselves without duplicating the field.
func (l *Logger) WithComponent(component string) *Logger {
	if l.component == component {
		return l
	}

	return &Logger{
		SugaredLogger: l.With("component", component),
		atomicLevel:   l.atomicLevel,
		component:     component,
	}
}

// GetComponent returns the component name this logger was tagged with, or an
// empty string for the root logger.
func (l *Logger) GetComponent() string {
	return l.component
}

// GetLevel returns the current log level as a string.
func (l *Logger) GetLevel() string {
	return l.atomicLevel.Level().String()
}

// SetLevel changes the log level at runtime. The level is shared with all
// child loggers created via WithComponent.
func (l *Logger) SetLevel(level string) error {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.atomicLevel.SetLevel(zapLevel)
	return nil
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Sync()
}

func GetDefaultLogger() *Logger {
	l := defaultLogger.Load()
	if l != nil {
		return l
	}
	// default level: debug
	zapLogger, err := NewLogger("debug", true)
	if err != nil {
		panic(err)
	}
	defaultLogger.Store(zapLogger)
	return defaultLogger.Load()
}
