// Package normalize maps heterogeneous server records into the canonical
// shapes in package models. Every function is total: malformed or missing
// fields produce zero values, never panics.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is one decoded JSON object.
type Record = map[string]any

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// String returns the first key holding a non-empty string or number.
func String(r Record, keys ...string) string {
	for _, k := range keys {
		if s, ok := asString(r[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

// Int returns the first key holding a number, numeric string or array
// (whose length is used). ok is false when no key matched.
func Int(r Record, keys ...string) (int, bool) {
	for _, k := range keys {
		if n, ok := asInt(r[k]); ok {
			return n, true
		}
	}
	return 0, false
}

// Bool returns the first key holding a boolean-ish value.
func Bool(r Record, keys ...string) (bool, bool) {
	for _, k := range keys {
		if b, ok := asBool(r[k]); ok {
			return b, true
		}
	}
	return false, false
}

// Object returns the first key holding a JSON object.
func Object(r Record, keys ...string) (Record, bool) {
	for _, k := range keys {
		if m, ok := r[k].(map[string]any); ok {
			return m, true
		}
	}
	return nil, false
}

// Array returns the first key holding a JSON array.
func Array(r Record, keys ...string) ([]any, bool) {
	for _, k := range keys {
		if a, ok := r[k].([]any); ok {
			return a, true
		}
	}
	return nil, false
}

// Time returns the first key holding a parseable timestamp. Numbers are
// treated as unix seconds, or milliseconds when large enough.
func Time(r Record, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if t, ok := asTime(r[k]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// ID returns the canonical identifier of a record: id, then _id, then "".
func ID(r Record) string {
	return String(r, "id", "_id")
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case json.Number:
		return x.String(), true
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int(x), true
	case int:
		return x, true
	case int64:
		return int(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
		if f, err := x.Float64(); err == nil {
			return int(f), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n, true
		}
	case []any:
		return len(x), true
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			return b, true
		}
	case float64:
		return x != 0, true
	case int:
		return x != 0, true
	}
	return false, false
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	case float64:
		return fromUnix(int64(x)), true
	case int64:
		return fromUnix(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return fromUnix(n), true
		}
	}
	return time.Time{}, false
}

func fromUnix(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
