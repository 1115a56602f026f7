// Package logger is a thin wrapper over zap that the rest of the module
// logs through. It standardizes the encoder setup and carries the two
// child-logger helpers (component, request ID) every other package uses.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger embeds zap.Logger so callers keep zap's structured-field API.
type Logger struct {
	*zap.Logger
}

// Config selects the log level, the encoder, and an optional file sink.
type Config struct {
	Level  string
	Format string // "json" or "console"
	File   *FileConfig
}

// FileConfig enables a secondary JSON sink appended to Path.
type FileConfig struct {
	Enabled bool
	Path    string
}

// New builds a Logger from cfg. The console sink always writes to stdout;
// a file sink is added when cfg.File is enabled. Unknown levels and
// unopenable files fail construction rather than being silently ignored.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: bad level %q: %w", cfg.Level, err)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(cfg.Format), zapcore.AddSync(os.Stdout), level),
	}

	if cfg.File != nil && cfg.File.Enabled {
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logger: open log file: %w", err)
		}
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(f), level))
	}

	z := zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return &Logger{Logger: z}, nil
}

func consoleEncoder(format string) zapcore.Encoder {
	if format == "console" {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewConsoleEncoder(enc)
	}
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(enc)
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("component", component))}
}

// WithRequestID returns a child logger tagged with a request ID.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("request_id", requestID))}
}
