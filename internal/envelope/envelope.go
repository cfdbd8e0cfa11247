// Package envelope normalizes the payload shapes a record backend may answer
// with. All key-name guessing lives here so callers only ever see canonical
// values.
package envelope

import (
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Record is one row as decoded from the backend.
type Record = map[string]any

var listKeys = []string{"items", "data", "results"}

// List extracts the record sequence from a list response: a bare array, or an
// object exposing items, data or results (first present wins). Anything else
// yields an empty slice.
func List(payload any) []Record {
	switch value := payload.(type) {
	case []any:
		return toRecords(value)
	case []Record:
		return value
	case map[string]any:
		for _, key := range listKeys {
			if inner, ok := value[key]; ok {
				return List(unwrapList(inner))
			}
		}
	}
	return []Record{}
}

// unwrapList prevents an object nested under "data" from being searched for
// another envelope level; only arrays are accepted there.
func unwrapList(inner any) any {
	switch inner.(type) {
	case []any, []Record:
		return inner
	}
	return nil
}

func toRecords(values []any) []Record {
	out := make([]Record, 0, len(values))
	for _, value := range values {
		if record, ok := value.(map[string]any); ok {
			out = append(out, record)
		}
	}
	return out
}

var countKeys = []string{"count", "total"}

// Count extracts a record total: a bare number, {count} or {total}, checked in
// that order. A nil result means the total is unknown, which is not zero.
func Count(payload any) *int64 {
	if n, ok := Number(payload); ok {
		return &n
	}
	if object, ok := payload.(map[string]any); ok {
		for _, key := range countKeys {
			if inner, present := object[key]; present {
				if n, ok := Number(inner); ok {
					return &n
				}
			}
		}
	}
	return nil
}

// Number converts the numeric shapes produced by the decoders in this module
// into an int64. Fractional values are rejected.
func Number(value any) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return integral(f)
	case float64:
		return integral(v)
	case float32:
		return integral(float64(v))
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

var recordKeys = []string{"data", "item", "result", "record"}

var metaKeys = map[string]struct{}{
	"status":  {},
	"message": {},
	"detail":  {},
	"success": {},
	"meta":    {},
}

// Single extracts a single record from a detail response. An object is
// unwrapped only when every key besides the wrapper is envelope metadata, so a
// table that really has a "data" column is left untouched.
func Single(payload any) (Record, bool) {
	object, ok := payload.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, key := range recordKeys {
		inner, present := object[key]
		if !present {
			continue
		}
		nested, isObject := inner.(map[string]any)
		if !isObject || !onlyMeta(object, key) {
			continue
		}
		return nested, true
	}
	return object, true
}

func onlyMeta(object map[string]any, wrapper string) bool {
	for key := range object {
		if key == wrapper {
			continue
		}
		if _, meta := metaKeys[key]; !meta {
			return false
		}
	}
	return true
}

// ErrorMessage returns the backend's message or detail field, verbatim. FastAPI
// style validation errors carry a list under detail; their first msg is used.
func ErrorMessage(payload any) (string, bool) {
	object, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	for _, key := range []string{"message", "detail"} {
		switch value := object[key].(type) {
		case string:
			if strings.TrimSpace(value) != "" {
				return value, true
			}
		case []any:
			for _, entry := range value {
				if item, ok := entry.(map[string]any); ok {
					if msg, ok := item["msg"].(string); ok && msg != "" {
						return msg, true
					}
				}
			}
		}
	}
	return "", false
}

// Scalar renders a raw record value the way list cells show it.
func Scalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		if stringer, ok := v.(interface{ String() string }); ok {
			return stringer.String()
		}
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.Trim(string(data), `"`)
	}
}
