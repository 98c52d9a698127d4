package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes one JSON line per action. Every entry carries the service
// name, the action and the host.
type Logger struct {
	service string
	base    *zap.Logger
	z       *zap.Logger
}

func New(service string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.MessageKey = "message"
	cfg.Sampling = nil
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return NewWith(z, service)
}

// NewWith wraps an existing zap logger, used by tests with zaptest/observer.
func NewWith(z *zap.Logger, service string) *Logger {
	return &Logger{
		service: service,
		base:    z,
		z:       z.With(zap.String("service", service), zap.String("hostname", hostname())),
	}
}

func Nop() *Logger { return NewWith(zap.NewNop(), "nop") }

// Named returns a logger for a sub-component of the same process.
func (l *Logger) Named(service string) *Logger { return NewWith(l.base, service) }

func (l *Logger) Sync() { _ = l.z.Sync() }

func (l *Logger) Info(action string, fields map[string]any)  { l.z.Info(action, toZap(action, fields)...) }
func (l *Logger) Debug(action string, fields map[string]any) { l.z.Debug(action, toZap(action, fields)...) }
func (l *Logger) Warn(action string, fields map[string]any)  { l.z.Warn(action, toZap(action, fields)...) }
func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.z.Error(action, append(toZap(action, fields), zap.Error(err))...)
}

func toZap(action string, fields map[string]any) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("action", action))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func hostname() string { h, _ := os.Hostname(); return h }
