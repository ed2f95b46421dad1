// Package logger builds the process slog.Logger. Text output is rendered by
// charmbracelet/log for terminals; JSON output writes one LogEntry per line for
// log shippers.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"

	"synochat/pkg/config"
)

const (
	envFormat    = "SYNOCHAT_LOG_FORMAT"
	envLevel     = "SYNOCHAT_LOG_LEVEL"
	envAddSource = "SYNOCHAT_LOG_ADD_SOURCE"

	formatText = "text"
	formatJSON = "json"

	defaultLevel = "info"
)

// LogEntry is the JSON line shape. Component and RequestID are lifted out of
// the attribute map so logs can be filtered by them directly.
type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

type settings struct {
	format    string
	level     slog.Level
	addSource bool
}

// New returns a logger writing to stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	if s.format == formatText {
		pretty := charmLog.NewWithOptions(writer, charmLog.Options{
			Level:           charmLevel(s.level),
			ReportTimestamp: true,
			ReportCaller:    s.addSource,
			Formatter:       charmLog.TextFormatter,
		})
		return slog.New(pretty), nil
	}

	return slog.New(&entryHandler{
		level:     s.level,
		addSource: s.addSource,
		writer:    writer,
		mu:        &sync.Mutex{},
	}), nil
}

// resolve merges file settings with SYNOCHAT_LOG_* environment overrides.
func resolve(cfg config.LoggingConfig) (settings, error) {
	format := firstNonEmpty(os.Getenv(envFormat), cfg.Format, formatText)
	if format != formatText && format != formatJSON {
		return settings{}, fmt.Errorf("unsupported log format %q", format)
	}

	level, err := parseLevel(firstNonEmpty(os.Getenv(envLevel), cfg.Level, defaultLevel))
	if err != nil {
		return settings{}, err
	}

	addSource := cfg.AddSource
	if env := strings.TrimSpace(os.Getenv(envAddSource)); env != "" {
		addSource = parseBool(env)
	}

	return settings{format: format, level: level, addSource: addSource}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.ToLower(strings.TrimSpace(value)); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func parseLevel(levelText string) (slog.Level, error) {
	switch levelText {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", levelText)
	}
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

type entryHandler struct {
	level     slog.Level
	addSource bool
	writer    io.Writer
	attrs     []slog.Attr
	groups    []string
	mu        *sync.Mutex
}

func (h *entryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *entryHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := LogEntry{
		Level:     strings.ToLower(record.Level.String()),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Message:   record.Message,
	}

	fields := make(map[string]any)
	for _, attr := range h.attrs {
		h.apply(fields, &entry, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		h.apply(fields, &entry, attr)
		return true
	})
	if len(fields) > 0 {
		entry.Fields = fields
	}

	if h.addSource {
		entry.Caller = caller(record.PC)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.writer.Write(append(line, '\n'))
	return err
}

func (h *entryHandler) apply(fields map[string]any, entry *LogEntry, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	key := attr.Key
	if len(h.groups) > 0 {
		key = strings.Join(append(append([]string{}, h.groups...), attr.Key), ".")
	}

	if attr.Value.Kind() == slog.KindString {
		switch key {
		case "component":
			entry.Component = attr.Value.String()
			return
		case "request_id":
			entry.RequestID = attr.Value.String()
			return
		}
	}

	fields[key] = attrValue(attr.Value)
}

func (h *entryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *entryHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

func caller(pc uintptr) string {
	if pc == 0 {
		return ""
	}

	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}

	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}

func attrValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindString:
		return value.String()
	case slog.KindInt64:
		return value.Int64()
	case slog.KindUint64:
		return value.Uint64()
	case slog.KindFloat64:
		return value.Float64()
	case slog.KindBool:
		return value.Bool()
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := value.Group()
		result := make(map[string]any, len(group))
		for _, item := range group {
			result[item.Key] = attrValue(item.Value.Resolve())
		}
		return result
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return err.Error()
		}
		return value.Any()
	default:
		return value.String()
	}
}
