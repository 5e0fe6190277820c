package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the process logger.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string `yaml:"level"`

	// Format specifies output format: "json" or "text"
	Format string `yaml:"format"`

	// Output is "stdout", "stderr" or a file path. Defaults to stdout.
	Output string `yaml:"output"`

	// AddSource includes file and line number in log records
	AddSource bool `yaml:"add_source"`

	// RedactPatterns are additional regex patterns for sensitive data redaction
	RedactPatterns []string `yaml:"redact_patterns"`
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	UserIDKey    ContextKey = "user_id"
	ThreadIDKey  ContextKey = "thread_id"
)

var contextKeys = []ContextKey{RequestIDKey, UserIDKey, ThreadIDKey}

const redacted = "[REDACTED]"

// DefaultRedactPatterns mask credentials that flow through OAuth, provider
// and secret handling code.
var DefaultRedactPatterns = []string{
	`(?i)bearer\s+[a-zA-Z0-9_\-\.=]+`,
	`(?i)(client_secret|access_token|refresh_token|code_verifier)(["']?\s*[:=]\s*["']?)[^\s"'&,}]+`,
	`AGE-SECRET-KEY-1[0-9A-Z]+`,
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9_-]{32,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

var sensitiveKeys = map[string]bool{
	"password":       true,
	"secret":         true,
	"token":          true,
	"api_key":        true,
	"apikey":         true,
	"client_secret":  true,
	"access_token":   true,
	"refresh_token":  true,
	"authorization":  true,
	"encryption_key": true,
}

// NewLogger builds the process logger. The returned close function releases
// the output file, if any.
//
// Example:
//
//	logger, closeLog, err := observability.NewLogger(cfg.Observability.Logging)
//	if err != nil {
//	    return err
//	}
//	defer closeLog()
//	slog.SetDefault(logger)
func NewLogger(config LogConfig) (*slog.Logger, func() error, error) {
	out, closeFn, err := openOutput(config.Output)
	if err != nil {
		return nil, nil, err
	}
	redactor, err := NewRedactor(config.RedactPatterns...)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}
	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(NewRedactingHandler(handler, redactor)), closeFn, nil
}

func openOutput(output string) (io.Writer, func() error, error) {
	nop := func() error { return nil }
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nop, nil
	case "stderr":
		return os.Stderr, nop, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	return f, f.Close, nil
}

// Redactor masks secrets in strings.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the default patterns plus extra.
func NewRedactor(extra ...string) (*Redactor, error) {
	all := append(append([]string{}, DefaultRedactPatterns...), extra...)
	r := &Redactor{patterns: make([]*regexp.Regexp, 0, len(all))}
	for _, p := range all {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Redact returns s with every match masked. Key=value matches keep the key.
func (r *Redactor) Redact(s string) string {
	for _, re := range r.patterns {
		if re.NumSubexp() >= 2 {
			s = re.ReplaceAllString(s, "${1}${2}"+redacted)
			continue
		}
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// RedactingHandler masks secrets in the message and attributes of every
// record before passing it on. Context ids are added as attributes.
type RedactingHandler struct {
	next     slog.Handler
	redactor *Redactor
}

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler, redactor *Redactor) *RedactingHandler {
	return &RedactingHandler{next: next, redactor: redactor}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.redactor.Redact(r.Message), r.PC)
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			out.AddAttrs(slog.String(string(key), v))
		}
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		out.AddAttrs(slog.String("trace_id", traceID))
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(clean), redactor: h.redactor}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(strings.ReplaceAll(a.Key, "-", "_"))] {
		return slog.String(a.Key, redacted)
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.redactor.Redact(v.String()))
	case slog.KindGroup:
		group := v.Group()
		clean := make([]any, len(group))
		for i, ga := range group {
			clean[i] = h.redactAttr(ga)
		}
		return slog.Group(a.Key, clean...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, h.redactor.Redact(err.Error()))
		}
		if s, ok := v.Any().(fmt.Stringer); ok {
			return slog.String(a.Key, h.redactor.Redact(s.String()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

// WithRequestID returns ctx carrying a request id for log records.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithUserID returns ctx carrying the authenticated user id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

// WithThreadID returns ctx carrying a thread id.
func WithThreadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ThreadIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
