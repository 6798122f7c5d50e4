package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is re-exported so callers never import zap directly.
type Field = zap.Field

// Logger interface defines the logging methods
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
	Sync() error
}

// loggerImpl implements the Logger interface
type loggerImpl struct {
	zapLogger *zap.Logger
}

// Global logger instance
var globalLogger Logger

// Initialize the global logger
func Init(logger *zap.Logger) {
	globalLogger = &loggerImpl{zapLogger: logger}
}

// InitDefault initializes a production JSON logger on stderr. Stdout is
// reserved for the engine's tagged event stream, so operator logs must not
// interleave with it.
func InitDefault() {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := config.Build()
	if err != nil {
		// Fallback to basic logger
		zapLogger = zap.NewExample()
	}

	Init(zapLogger)
	zap.ReplaceGlobals(zapLogger)
}

// Get the global logger
func L() Logger {
	if globalLogger == nil {
		InitDefault()
	}
	return globalLogger
}

// Context key for trace ID
type contextKey string

const traceIDKey contextKey = "trace_id"

// WithTraceID adds trace ID to context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceIDFromContext extracts trace ID from context
func GetTraceIDFromContext(ctx context.Context) (string, bool) {
	traceID, ok := ctx.Value(traceIDKey).(string)
	return traceID, ok
}

// Package-level convenience functions

func Debug(ctx context.Context, msg string, fields ...Field) {
	WithContext(ctx).Debug(msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...Field) {
	WithContext(ctx).Info(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...Field) {
	WithContext(ctx).Warn(msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...Field) {
	WithContext(ctx).Error(msg, fields...)
}

func Fatal(ctx context.Context, msg string, fields ...Field) {
	WithContext(ctx).Fatal(msg, fields...)
}

func With(fields ...Field) Logger {
	return L().With(fields...)
}

func WithContext(ctx context.Context) Logger {
	return L().WithContext(ctx)
}

func Sync() error {
	return L().Sync()
}

// Field creation functions

func String(key string, val string) Field {
	return zap.String(key, val)
}

func Int(key string, val int) Field {
	return zap.Int(key, val)
}

func Int64(key string, val int64) Field {
	return zap.Int64(key, val)
}

func Float64(key string, val float64) Field {
	return zap.Float64(key, val)
}

func Bool(key string, val bool) Field {
	return zap.Bool(key, val)
}

func Any(key string, val interface{}) Field {
	return zap.Any(key, val)
}

func ErrorField(err error) Field {
	return zap.Error(err)
}

func Duration(key string, val time.Duration) Field {
	return zap.Duration(key, val)
}

// Implementation of Logger interface methods

func (l *loggerImpl) Debug(msg string, fields ...Field) {
	l.zapLogger.Debug(msg, fields...)
}

func (l *loggerImpl) Info(msg string, fields ...Field) {
	l.zapLogger.Info(msg, fields...)
}

func (l *loggerImpl) Warn(msg string, fields ...Field) {
	l.zapLogger.Warn(msg, fields...)
}

func (l *loggerImpl) Error(msg string, fields ...Field) {
	l.zapLogger.Error(msg, fields...)
}

func (l *loggerImpl) Fatal(msg string, fields ...Field) {
	l.zapLogger.Fatal(msg, fields...)
}

func (l *loggerImpl) With(fields ...Field) Logger {
	return &loggerImpl{zapLogger: l.zapLogger.With(fields...)}
}

func (l *loggerImpl) WithContext(ctx context.Context) Logger {
	if traceID, ok := GetTraceIDFromContext(ctx); ok {
		return &loggerImpl{zapLogger: l.zapLogger.With(zap.String("trace_id", traceID))}
	}
	return l
}

func (l *loggerImpl) Sync() error {
	return l.zapLogger.Sync()
}
