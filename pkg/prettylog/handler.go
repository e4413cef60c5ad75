// based on https://dusted.codes/creating-a-pretty-console-logger-using-gos-slog-package
package prettylog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	timeFormat = "15:04:05.000"
	redacted   = "[REDACTED]"
)

const (
	reset = "\033[0m"

	cyan     = 36
	darkGray = 90
	lightRed = 91
	yellow   = 33
	white    = 97
)

func colorize(colorCode int, v string) string {
	return fmt.Sprintf("\033[%sm%s%s", strconv.Itoa(colorCode), v, reset)
}

// DefaultSecretKeys are attribute keys whose values never reach the output.
var DefaultSecretKeys = []string{
	"access_token",
	"refresh_token",
	"id_token",
	"client_secret",
	"code",
	"code_verifier",
	"pkce_code_verifier",
	"csrf_token",
	"dpop",
	"authorization",
}

type handler struct {
	level   slog.Level
	output  io.Writer
	mu      *sync.Mutex
	secrets map[string]struct{}
	attrs   []slog.Attr
	group   string
}

type Option func(*handler)

func WithOutput(w io.Writer) Option {
	return func(h *handler) {
		h.output = w
	}
}

// WithSecretKeys replaces the set of redacted attribute keys.
func WithSecretKeys(keys ...string) Option {
	return func(h *handler) {
		h.secrets = toSet(keys)
	}
}

func NewHandler(level slog.Level, opts ...Option) slog.Handler {
	h := &handler{
		level:   level,
		output:  os.Stderr,
		mu:      &sync.Mutex{},
		secrets: toSet(DefaultSecretKeys),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = struct{}{}
	}
	return set
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &clone
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = h.qualify(name)
	return &clone
}

func (h *handler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.level {
		return nil
	}

	level := r.Level.String() + ":"

	switch r.Level {
	case slog.LevelDebug:
		level = colorize(darkGray, level)
	case slog.LevelInfo:
		level = colorize(cyan, level)
	case slog.LevelWarn:
		level = colorize(yellow, level)
	case slog.LevelError:
		level = colorize(lightRed, level)
	}

	attrs := make(map[string]any)
	for _, a := range h.attrs {
		h.collect(attrs, a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.collect(attrs, h.qualify(a.Key), a.Value)
		return true
	})

	sb := strings.Builder{}
	sb.WriteString(colorize(darkGray, r.Time.Format(timeFormat)))
	sb.WriteString(" ")
	sb.WriteString(level)
	sb.WriteString(" ")
	sb.WriteString(colorize(white, r.Message))
	if len(attrs) > 0 {
		sb.WriteString(" ")
		sb.WriteString(colorize(darkGray, attributesToString(attrs)))
	}
	sb.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.output, sb.String())
	return err
}

func (h *handler) collect(attrs map[string]any, key string, value slog.Value) {
	if h.isSecret(key) {
		attrs[key] = redacted
		return
	}

	value = value.Resolve()
	if value.Kind() == slog.KindGroup {
		for _, a := range value.Group() {
			h.collect(attrs, key+"."+a.Key, a.Value)
		}
		return
	}

	attrs[key] = convert(value.Any())
}

func (h *handler) isSecret(key string) bool {
	if i := strings.LastIndex(key, "."); i >= 0 {
		key = key[i+1:]
	}
	_, ok := h.secrets[strings.ToLower(key)]
	return ok
}

func attributesToString(attrs map[string]any) string {
	asJson, err := json.MarshalIndent(attrs, "  ", "  ")
	if err != nil {
		return fmt.Sprintf("%v", attrs)
	}
	return string(asJson)
}

type Loggable interface {
	ToLog() any
}

func convert(value any) any {
	switch v := value.(type) {
	case nil:
		return "nil"
	case error:
		return v.Error()
	case []byte:
		return fmt.Sprintf("%v", v)
	case Loggable:
		return v.ToLog()
	case fmt.Stringer:
		return v.String()
	}

	if _, err := json.Marshal(value); err != nil {
		return fmt.Sprintf("%v", value)
	}
	return value
}
