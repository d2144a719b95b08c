// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// zap levels for each prefix.  Debug sits below zap's own DebugLevel
// so that the five prefixes stay distinct in the encoder.
const (
	zapDebug   = zapcore.DebugLevel - 1
	zapVerbose = zapcore.DebugLevel
	zapInfo    = zapcore.InfoLevel
	zapWarn    = zapcore.WarnLevel
	zapError   = zapcore.ErrorLevel
)

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  Messages are rendered by a zap console core;
// the verbosity gate stays here so the five levels map onto the
// familiar -v counting.
type Logger struct {
	level      LogLevel
	mu         *sync.Mutex
	output     io.Writer
	timestamps bool // if true, prepend 15:04:05.000 timestamps
	fields     []zap.Field
	zap        *zap.Logger
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		mu:         &sync.Mutex{},
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.timestamps = on
	l.rebuild()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.rebuild()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// With returns a child logger that appends key=value to every line.
// The child shares the parent's output and write lock.
func (l *Logger) With(key string, value interface{}) *Logger {
	child := *l
	child.fields = append(append([]zap.Field(nil), l.fields...), zap.Any(key, value))
	child.zap = l.zap.With(zap.Any(key, value))
	return &child
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zapInfo, format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zapWarn, format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write(zapVerbose, format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write(zapDebug, format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(zapError, format, args...)
}

func (l *Logger) write(level zapcore.Level, format string, args ...interface{}) {
	if ce := l.zap.Check(level, fmt.Sprintf(format, args...)); ce != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		ce.Write()
	}
}

func (l *Logger) rebuild() {
	enc := zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		EncodeLevel:      encodeLevel,
		ConsoleSeparator: " ",
	}
	if l.timestamps {
		enc.TimeKey = "time"
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(enc),
		zapcore.AddSync(l.output),
		zap.LevelEnablerFunc(func(zapcore.Level) bool { return true }),
	)
	l.zap = zap.New(core).With(l.fields...)
}

func encodeLevel(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch lvl {
	case zapDebug:
		enc.AppendString("[DBG]")
	case zapVerbose:
		enc.AppendString("[VRB]")
	case zapInfo:
		enc.AppendString("[INF]")
	case zapWarn:
		enc.AppendString("[WRN]")
	default:
		enc.AppendString("[ERR]")
	}
}
