package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in emitted records.
const RedactedValue = "[REDACTED]"

// sensitiveFragments mark a key as secret when any of them appears in the
// lower-cased key name.
var sensitiveFragments = []string{
	"authorization",
	"credential",
	"passphrase",
	"password",
	"private",
	"secret",
	"signature",
	"token",
}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// MaskValue returns the placeholder for non-empty values. Blank values pass
// through unchanged.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute whose value is masked when key is sensitive.
func MaskField(key, value string) slog.Attr {
	if IsSensitive(key) {
		return slog.String(key, MaskValue(value))
	}
	return slog.String(key, value)
}

// redactAttr is applied by the handler to every attribute, so callers that
// forget MaskField still never leak a signature or bearer token.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}

// Shorten renders long opaque values such as digests as a prefix and suffix.
func Shorten(value string) string {
	if len(value) <= 16 {
		return value
	}
	return value[:8] + "…" + value[len(value)-6:]
}
