package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// Attribute names that carry secret material. A name matches exactly or as
// a suffix after an underscore ("old_passphrase", "aes_iv").
var sensitiveNames = []string{
	"value",
	"secret",
	"plaintext",
	"ciphertext",
	"iv",
	"passphrase",
	"password",
	"token",
	"material",
	"key_bytes",
}

func sensitive(name string) bool {
	name = strings.ToLower(name)
	for _, s := range sensitiveNames {
		if name == s || strings.HasSuffix(name, "_"+s) {
			return true
		}
	}
	return false
}

// RedactingHandler masks secret material before records reach the wrapped
// handler. Sensitive names are replaced wholesale; raw byte slices under any
// other name are reduced to their length, since keys, IVs and ciphertext all
// travel as []byte through the store.
type RedactingHandler struct {
	inner slog.Handler
}

func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		masked.AddAttrs(redact(attr))
		return true
	})
	return h.inner.Handle(ctx, masked)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithAttrs(redactAll(attrs))}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

// redact resolves LogValuers first so a value cannot hide secrets behind a
// harmless-looking type.
func redact(attr slog.Attr) slog.Attr {
	if sensitive(attr.Key) {
		return slog.String(attr.Key, redacted)
	}

	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindGroup:
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(redactAll(value.Group())...)}
	case slog.KindAny:
		if b, ok := value.Any().([]byte); ok {
			return slog.String(attr.Key, fmt.Sprintf("[%d bytes]", len(b)))
		}
	}
	return slog.Attr{Key: attr.Key, Value: value}
}

func redactAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		out[i] = redact(attr)
	}
	return out
}
