package crm

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ValueProperties lists the value property names in precedence order.
var ValueProperties = []string{"value", "fieldValue"}

// FieldValue returns the first value property present on the entry. A
// property is present when its key exists, even when it holds null.
func FieldValue(entry CustomFieldValue) (json.RawMessage, bool) {
	for _, key := range ValueProperties {
		raw, ok := entry.Properties[key]
		if ok {
			return raw, true
		}
	}
	return nil, false
}

// FieldValueString renders the value as text. Null renders empty, arrays are
// joined with ", " and objects keep their JSON form.
func FieldValueString(entry CustomFieldValue) (string, bool) {
	raw, ok := FieldValue(entry)
	if !ok {
		return "", false
	}
	return rawString(raw), true
}

func rawString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err == nil {
			return strings.TrimSpace(text)
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				if text := rawString(item); text != "" {
					parts = append(parts, text)
				}
			}
			return strings.Join(parts, ", ")
		}
	case 't', 'f':
		if parsed, err := strconv.ParseBool(string(trimmed)); err == nil {
			return strconv.FormatBool(parsed)
		}
	}
	return string(trimmed)
}
