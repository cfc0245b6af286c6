// Package log provides the small structured-logging facade used across
// staticd. It wraps zap with a package-level default logger and a Helper
// for leveled printf-style calls. It has no file sink of its own; the
// rotating access-log file lives in internal/accesslog.
package log

import (
	"context"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors zapcore levels without leaking the zap type into callers.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal = Level(zapcore.FatalLevel)
)

func (l Level) zap() zapcore.Level { return zapcore.Level(l) }

type requestIDKey struct{}

// WithRequestID attaches a request identifier to ctx for later retrieval by Context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

var defaultLogger = func() *atomic.Pointer[zap.Logger] {
	p := &atomic.Pointer[zap.Logger]{}
	p.Store(newBootstrapLogger())
	return p
}()

func newBootstrapLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Build only fails on bad config; fall back to a no-op logger that
		// discards everything rather than taking the process down before
		// flags are parsed.
		l = zap.NewNop()
	}
	return l
}

// SetLogger installs the process-wide logger. Call once during startup,
// after flags/config are known (verbosity, output path).
func SetLogger(l *zap.Logger) {
	defaultLogger.Store(l)
}

// GetLogger returns the process-wide logger.
func GetLogger() *zap.Logger {
	return defaultLogger.Load()
}

// NewHelper builds a Helper bound to l, or the default logger if l is nil.
func NewHelper(l *zap.Logger) *Helper {
	if l == nil {
		l = GetLogger()
	}
	return &Helper{l: l.Sugar()}
}

// Helper is a leveled, printf-style logging handle, analogous to the
// teacher's contrib/log.Helper used throughout the caching middleware.
type Helper struct {
	l *zap.SugaredLogger
}

// With returns a Helper carrying the given structured key/value pairs.
func (h *Helper) With(kv ...any) *Helper {
	return &Helper{l: h.l.With(kv...)}
}

func (h *Helper) Debugf(format string, args ...any) { h.l.Debugf(format, args...) }
func (h *Helper) Infof(format string, args ...any)  { h.l.Infof(format, args...) }
func (h *Helper) Warnf(format string, args ...any)  { h.l.Warnf(format, args...) }
func (h *Helper) Errorf(format string, args ...any) { h.l.Errorf(format, args...) }
func (h *Helper) Fatalf(format string, args ...any) { h.l.Fatalf(format, args...) }

// Context returns a Helper decorated with the request id carried by ctx, if any.
func Context(ctx context.Context) *Helper {
	h := NewHelper(nil)
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return h.With("request_id", id)
	}
	return h
}

// Enabled reports whether lvl would currently be logged.
func Enabled(lvl Level) bool {
	return GetLogger().Core().Enabled(lvl.zap())
}

var std = NewHelper(nil)

func Debugf(format string, args ...any) { std.Debugf(format, args...) }
func Infof(format string, args ...any)  { std.Infof(format, args...) }
func Warnf(format string, args ...any)  { std.Warnf(format, args...) }
func Errorf(format string, args ...any) { std.Errorf(format, args...) }
func Fatalf(format string, args ...any) { std.Fatalf(format, args...) }
func Fatal(args ...any) {
	GetLogger().Sugar().Fatal(args...)
	os.Exit(1)
}
