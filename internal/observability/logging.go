// Package observability provides the kernel's structured logging: a
// log/slog wrapper with thread/tool correlation fields and redaction of
// secrets that routinely pass through tool parameters and resolved
// environments (API keys, bearer tokens, capability signatures).
package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// ContextKey is the type used for context-carried correlation fields.
type ContextKey string

const (
	ThreadIDKey    ContextKey = "thread_id"
	DirectiveIDKey ContextKey = "directive_id"
	ToolIDKey      ContextKey = "tool_id"
)

// LogConfig configures Logger construction.
type LogConfig struct {
	Level          string // debug|info|warn|error
	Format         string // json|text
	Output         io.Writer
	AddSource      bool
	RedactPatterns []string
}

// DefaultRedactPatterns covers the secret shapes that show up in resolved
// environments and HTTP auth headers.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// Logger is the kernel's structured logger.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// NewLogger builds a Logger from config, defaulting to stdout/info/json.
func NewLogger(cfg LogConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	patterns := append(append([]string{}, DefaultRedactPatterns...), cfg.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), redacts: redacts}
}

// WithContext returns a logger that annotates records with thread/tool
// correlation fields found on ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if v, ok := ctx.Value(ThreadIDKey).(string); ok && v != "" {
		attrs = append(attrs, "thread_id", v)
	}
	if v, ok := ctx.Value(DirectiveIDKey).(string); ok && v != "" {
		attrs = append(attrs, "directive_id", v)
	}
	if v, ok := ctx.Value(ToolIDKey).(string); ok && v != "" {
		attrs = append(attrs, "tool_id", v)
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(attrs...), redacts: l.redacts}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)
	redacted := make([]any, len(args))
	for i, a := range args {
		redacted[i] = l.redactValue(a)
	}
	l.logger.Log(context.Background(), level, msg, redacted...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// WithFields returns a logger with static fields attached to every record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), redacts: l.redacts}
}

// Nop returns a logger that discards everything, useful as a safe zero
// value for components constructed without an explicit logger.
func Nop() *Logger {
	return NewLogger(LogConfig{Output: io.Discard})
}
