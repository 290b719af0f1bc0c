package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger
)

// Init initializes the global logger with a production zap core at Info
// level. Sink and level may be overridden via env vars for tests and
// deployments (CONVOSYNC_LOG_SINK, CONVOSYNC_LOG_LEVEL).
func Init() {
	InitWithLevel("")
}

// InitWithLevel initializes the global logger honoring the provided level
// string ("debug", "info", "warn", "error"). An empty level falls back to
// the CONVOSYNC_LOG_LEVEL env var, then to Info.
func InitWithLevel(level string) {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("CONVOSYNC_LOG_LEVEL")))
	}
	var zl zapcore.Level
	switch lvl {
	case "debug":
		zl = zapcore.DebugLevel
	case "warn", "warning":
		zl = zapcore.WarnLevel
	case "error":
		zl = zapcore.ErrorLevel
	default:
		zl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.OutputPaths = []string{"stdout"}
	if sink := os.Getenv("CONVOSYNC_LOG_SINK"); strings.HasPrefix(sink, "file:") {
		cfg.OutputPaths = []string{strings.TrimPrefix(sink, "file:")}
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		l = zap.NewNop()
	}
	mu.Lock()
	log = l.Sugar()
	mu.Unlock()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		// lazily initialize so packages can log before app wiring runs
		Init()
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

// Debug logs at debug level with alternating key/value args.
func Debug(msg string, args ...any) { get().Debugw(msg, args...) }

// Info logs at info level with alternating key/value args.
func Info(msg string, args ...any) { get().Infow(msg, args...) }

// Warn logs at warn level with alternating key/value args.
func Warn(msg string, args ...any) { get().Warnw(msg, args...) }

// Error logs at error level with alternating key/value args.
func Error(msg string, args ...any) { get().Errorw(msg, args...) }

// Sync flushes buffered log entries; callers should invoke it on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
