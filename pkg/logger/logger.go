package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with field-scoped child loggers
type Logger struct {
	*logrus.Logger
	fields logrus.Fields
}

// Config holds logger configuration
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// New creates a new logger instance with the given configuration
func New(config Config) (*Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	switch config.Output {
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		logger.SetOutput(os.Stdout)
	}

	return &Logger{
		Logger: logger,
		fields: make(logrus.Fields),
	}, nil
}

// Default returns a text logger at info level writing to stdout.
func Default() *Logger {
	l, _ := New(Config{Level: "info", Format: "text", Output: "stdout"})
	return l
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *Logger {
	l := Default()
	l.SetOutput(io.Discard)
	return l
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	fields := make(logrus.Fields)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value

	return &Logger{
		Logger: l.Logger,
		fields: fields,
	}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	newFields := make(logrus.Fields)
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &Logger{
		Logger: l.Logger,
		fields: newFields,
	}
}

// WithError adds an error field to the logger context
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

// Debug logs a debug message
func (l *Logger) Debug(args ...interface{}) {
	l.Logger.WithFields(l.fields).Debug(args...)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Logger.WithFields(l.fields).Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(args ...interface{}) {
	l.Logger.WithFields(l.fields).Info(args...)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Logger.WithFields(l.fields).Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(args ...interface{}) {
	l.Logger.WithFields(l.fields).Warn(args...)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Logger.WithFields(l.fields).Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(args ...interface{}) {
	l.Logger.WithFields(l.fields).Error(args...)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Logger.WithFields(l.fields).Errorf(format, args...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(args ...interface{}) {
	l.Logger.WithFields(l.fields).Fatal(args...)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.Logger.WithFields(l.fields).Fatalf(format, args...)
}

// ForwarderLogger creates a logger scoped to a transport-tier forwarder
func (l *Logger) ForwarderLogger(name string) *Logger {
	return l.WithFields(logrus.Fields{
		"component": "l4_forwarder",
		"forwarder": name,
	})
}

// EngineLogger creates a logger scoped to an application-tier engine
func (l *Logger) EngineLogger(name string) *Logger {
	return l.WithFields(logrus.Fields{
		"component": "l7_engine",
		"engine":    name,
	})
}

// BackendLogger creates a logger scoped to a backend instance
func (l *Logger) BackendLogger(name, address string) *Logger {
	return l.WithFields(logrus.Fields{
		"component": "backend",
		"backend":   name,
		"address":   address,
	})
}

// SimulationLogger creates a logger scoped to the client driver
func (l *Logger) SimulationLogger() *Logger {
	return l.WithField("component", "simulation")
}

// AdminLogger creates a logger scoped to the inspection API
func (l *Logger) AdminLogger() *Logger {
	return l.WithField("component", "admin")
}

// RequestLogger creates a logger scoped to one admin API request
func (l *Logger) RequestLogger(requestID, method, path, remoteAddr string) *Logger {
	return l.WithFields(logrus.Fields{
		"component":   "admin",
		"request_id":  requestID,
		"method":      method,
		"path":        path,
		"remote_addr": remoteAddr,
	})
}
