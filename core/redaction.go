package core

import "strings"

const RedactedValue = "[REDACTED]"

// RedactFields masks values under credential-like keys, recursing into
// nested maps and slices. Identifiers that merely mention a token kind, such
// as location_id or webhook_id, stay visible.
func RedactFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	return redactMap(fields)
}

func redactMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if isSensitiveKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactValue(value)
	}
	return target
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactValue(typed[i])
		}
		return out
	default:
		return value
	}
}

var sensitiveKeyParts = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"refresh",
	"credential",
	"signature",
	"code",
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "tenant_id",
		"location_id",
		"opportunity_id",
		"contact_id",
		"webhook_id",
		"delivery_id",
		"error_code",
		"status_code",
		"token_expires_at",
		"trace_id",
		"request_id":
		return true
	default:
		return false
	}
}
