// Package accesslog is a per-request structured log line, ground on the
// teacher's server/mod/accesslog.go: a lumberjack-rotated file sink
// written through a bare zap core (no timestamp/level prefix, since the
// line itself carries a timestamp field).
package accesslog

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one served request, per SPEC_FULL.md's access-log fields.
type Entry struct {
	Method     string
	Path       string
	Status     int
	BytesSent  int64
	Duration   time.Duration
	RemoteAddr string
}

// Logger writes Entry records to a rotating file, or discards them when
// disabled.
type Logger struct {
	zap *zap.Logger
}

// Disabled returns a Logger that drops every entry, for when access
// logging is turned off.
func Disabled() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// New opens (creating parent directories as needed) a rotating access log
// at path, exactly as the teacher's newAccessLog does.
func New(path string) (*Logger, error) {
	if path == "" {
		return Disabled(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     1,
		LocalTime:  true,
	}

	cfg := zap.NewProductionConfig().EncoderConfig
	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {}
	cfg.EncodeLevel = func(zapcore.Level, zapcore.PrimitiveArrayEncoder) {}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(f), zapcore.InfoLevel)
	return &Logger{zap: zap.New(core)}, nil
}

// Write records one Entry.
func (l *Logger) Write(e Entry) {
	l.zap.Info("",
		zap.String("ts", time.Now().UTC().Format(time.RFC3339)),
		zap.String("method", e.Method),
		zap.String("path", e.Path),
		zap.Int("status", e.Status),
		zap.Int64("bytes", e.BytesSent),
		zap.Duration("duration", e.Duration),
		zap.String("remote_addr", e.RemoteAddr),
	)
}

// Close flushes buffered entries to the underlying sink. The rotating file
// itself is not closed.
func (l *Logger) Close() error {
	return l.zap.Sync()
}
