package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Object is a decoded JSON object with typed, defaulting accessors. The
// same coercion rules apply to every phase output:
//
//   - String: strings as-is, numbers and booleans formatted, anything else
//     (missing, null, list, object) gives the default.
//   - Strings: a list keeps its non-empty elements, stringifying scalars
//     and re-encoding nested values as JSON; a single non-empty string
//     becomes a one-element list; anything else is empty.
//   - Float: numbers, or strings that parse as numbers.
type Object map[string]interface{}

// Has reports whether key is present with a non-null value.
func (o Object) Has(key string) bool {
	v, ok := o[key]
	return ok && v != nil
}

// String returns the value at key as text, or def.
func (o Object) String(key, def string) string {
	s, ok := scalarString(o[key])
	if !ok {
		return def
	}
	return s
}

// FirstString returns the first non-blank string among keys, or def.
func (o Object) FirstString(def string, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(o.String(k, "")); s != "" {
			return o.String(k, "")
		}
	}
	return def
}

// Strings returns the value at key as a list of text. Never nil.
func (o Object) Strings(key string) []string {
	out := []string{}
	switch v := o[key].(type) {
	case []interface{}:
		for _, item := range v {
			s, ok := scalarString(item)
			if !ok {
				data, err := json.Marshal(item)
				if err != nil || item == nil {
					continue
				}
				s = string(data)
			}
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
	case string:
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// Float returns the value at key as a number, or def.
func (o Object) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64); err == nil {
			return f
		}
	}
	return def
}

// Confidence reads key as a confidence in [0,1]. Values in [2,100] are
// read as percentages; anything else out of range is clamped, so 1.5
// becomes 1.
func (o Object) Confidence(key string) float64 {
	c := o.Float(key, 0)
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c >= 2 && c <= 100 {
		c = c / 100
	}
	if c > 1 {
		return 1
	}
	return c
}

func scalarString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	case int:
		return fmt.Sprint(t), true
	}
	return "", false
}
