package slogging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel is the minimum severity written by a Logger.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

const (
	defaultLogDir  = "logs"
	defaultLogFile = "liveboard.log"
)

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Logger wraps a slog.Logger with printf-style helpers that sanitize their
// output, plus the rotating file the records are written to.
type Logger struct {
	slogger    *slog.Logger
	level      LogLevel
	isDev      bool
	fileLogger *lumberjack.Logger
}

// Config holds logger options.
type Config struct {
	Level            LogLevel
	IsDev            bool
	LogDir           string
	MaxAgeDays       int
	MaxSizeMB        int
	MaxBackups       int
	AlsoLogToConsole bool
	// Output replaces the file and console writers when set. Used by tests.
	Output          io.Writer
	RedactionConfig *RedactionConfig
}

// ParseLogLevel converts a level name to a LogLevel. Unknown names map to info.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) toSlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// sourceHandler adds a short file:line attribute in development builds.
type sourceHandler struct {
	slog.Handler
}

func (h sourceHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		record.AddAttrs(slog.String("source", fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)))
	}
	return h.Handler.Handle(ctx, record)
}

func (h sourceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return sourceHandler{h.Handler.WithAttrs(attrs)}
}

func (h sourceHandler) WithGroup(name string) slog.Handler {
	return sourceHandler{h.Handler.WithGroup(name)}
}

// NewLogger builds a logger writing JSON records (text records in development)
// to a rotated file and optionally to stdout.
func NewLogger(config Config) (*Logger, error) {
	if config.LogDir == "" {
		config.LogDir = defaultLogDir
	}
	if config.MaxAgeDays <= 0 {
		config.MaxAgeDays = 7
	}
	if config.MaxSizeMB <= 0 {
		config.MaxSizeMB = 100
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 10
	}

	var (
		writer     io.Writer
		fileLogger *lumberjack.Logger
	)
	if config.Output != nil {
		writer = config.Output
	} else {
		if err := os.MkdirAll(config.LogDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		fileLogger = &lumberjack.Logger{
			Filename:   filepath.Join(config.LogDir, defaultLogFile),
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		}
		writer = fileLogger
		if config.AlsoLogToConsole {
			writer = io.MultiWriter(os.Stdout, fileLogger)
		}
	}

	opts := &slog.HandlerOptions{
		Level: config.Level.toSlogLevel(),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if config.IsDev {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	redaction := DefaultRedactionConfig()
	if config.RedactionConfig != nil {
		redaction = *config.RedactionConfig
	}
	handler, err := NewRedactionHandler(handler, redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redaction handler: %w", err)
	}
	if config.IsDev {
		handler = sourceHandler{handler}
	}

	return &Logger{
		slogger:    slog.New(handler),
		level:      config.Level,
		isDev:      config.IsDev,
		fileLogger: fileLogger,
	}, nil
}

// Initialize installs the global logger and makes it the slog default.
func Initialize(config Config) error {
	logger, err := NewLogger(config)
	if err != nil {
		return err
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
	slog.SetDefault(logger.slogger)
	return nil
}

// Get returns the global logger. Before Initialize it returns a console
// logger at info level.
func Get() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = &Logger{
			slogger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
			level:   LogLevelInfo,
		}
	}
	return globalLogger
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.fileLogger == nil {
		return nil
	}
	if err := l.fileLogger.Close(); err != nil {
		return fmt.Errorf("file logger close: %w", err)
	}
	return nil
}

// Level returns the configured minimum level.
func (l *Logger) Level() LogLevel { return l.level }

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.slogger }

// With returns a logger that adds attrs to every record.
func (l *Logger) With(attrs ...any) *Logger {
	return &Logger{
		slogger:    l.slogger.With(attrs...),
		level:      l.level,
		isDev:      l.isDev,
		fileLogger: l.fileLogger,
	}
}

func (l *Logger) logf(level LogLevel, format string, args ...any) {
	if l.level > level {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.slogger.Log(context.Background(), level.toSlogLevel(), SanitizeLogMessage(msg))
}

// Debug, Info, Warn and Error format their arguments and strip control
// characters from the result (CWE-117).
func (l *Logger) Debug(format string, args ...any) { l.logf(LogLevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.logf(LogLevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.logf(LogLevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.logf(LogLevelError, format, args...) }

// DebugCtx logs a structured debug record.
func (l *Logger) DebugCtx(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.slogger.LogAttrs(ctx, slog.LevelDebug, SanitizeLogMessage(msg), attrs...)
}

// InfoCtx logs a structured info record.
func (l *Logger) InfoCtx(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.slogger.LogAttrs(ctx, slog.LevelInfo, SanitizeLogMessage(msg), attrs...)
}

// WarnCtx logs a structured warning record.
func (l *Logger) WarnCtx(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.slogger.LogAttrs(ctx, slog.LevelWarn, SanitizeLogMessage(msg), attrs...)
}

// ErrorCtx logs a structured error record.
func (l *Logger) ErrorCtx(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.slogger.LogAttrs(ctx, slog.LevelError, SanitizeLogMessage(msg), attrs...)
}
