// Package monitoring provides the process-wide structured logger and the
// pipeline metrics. The logger emits single-line JSON records carrying the
// service identity plus optional nested context objects, and has an
// explicit init/shutdown lifecycle: Init is a no-op once initialized and
// Shutdown flushes all buffered records.
package monitoring

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is the identity attached to every log record.
const ServiceName = "scenetrack-tracker"

// Version is set at build time via -ldflags.
var Version = "dev"

// TraceLevel sits below zap's debug level so trace records can be filtered
// independently.
const TraceLevel = zapcore.DebugLevel - 1

var (
	mu          sync.Mutex
	logger      *zap.Logger
	atomicLevel zap.AtomicLevel
	initialized bool
)

func parseLevel(level string) zapcore.Level {
	switch level {
	case "trace":
		return TraceLevel
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	enc.AppendString(l.String())
}

// Init initializes the process-wide logger at the given level. A nil sink
// writes to stdout. Calling Init twice without an intervening Shutdown is a
// no-op.
func Init(level string, sink io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return
	}

	if sink == nil {
		sink = os.Stdout
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    encodeLevel,
		EncodeDuration: zapcore.MillisDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	}

	atomicLevel = zap.NewAtomicLevelAt(parseLevel(level))
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(sink),
		atomicLevel,
	)

	logger = zap.New(core).With(
		zap.String("service", ServiceName),
		zap.String("version", Version),
	)
	initialized = true
}

// Shutdown flushes all pending records and releases the logger. Safe to
// call more than once and safe to call before Init.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		return
	}

	_ = logger.Sync()
	logger = nil
	initialized = false
}

// SetLevel adjusts the emission threshold at runtime.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		atomicLevel.SetLevel(parseLevel(level))
	}
}

// DebugEnabled reports whether debug records would currently be emitted.
// Use it to skip expensive log-only computation on the hot path.
func DebugEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return initialized && atomicLevel.Enabled(zapcore.DebugLevel)
}

func emit(level zapcore.Level, msg string, fields []zap.Field) {
	mu.Lock()
	l := logger
	ok := initialized
	mu.Unlock()

	if !ok {
		return
	}
	if ce := l.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Package-level emission helpers for records with no structured context.

// Trace logs at trace level.
func Trace(msg string) { emit(TraceLevel, msg, nil) }

// Debug logs at debug level.
func Debug(msg string) { emit(zapcore.DebugLevel, msg, nil) }

// Info logs at info level.
func Info(msg string) { emit(zapcore.InfoLevel, msg, nil) }

// Warn logs at warn level.
func Warn(msg string) { emit(zapcore.WarnLevel, msg, nil) }

// Error logs at error level.
func Error(msg string) { emit(zapcore.ErrorLevel, msg, nil) }
