package tracker

import (
	"strconv"
	"strings"
)

// toInt coerces heterogeneous device encodings to an integer: numbers,
// booleans, numeric strings with comma decimals, and unit-suffixed strings
// ("123 kb/s"). Returns nil when no number can be recovered.
func toInt(v any) *int64 {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		n := int64(0)
		if t {
			n = 1
		}
		return &n
	case int:
		n := int64(t)
		return &n
	case int64:
		return &t
	case float64:
		n := int64(t)
		return &n
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", ".")
		var b strings.Builder
		for _, ch := range s {
			if ch >= '0' && ch <= '9' || ch == '.' || ch == '-' {
				b.WriteRune(ch)
			}
		}
		digits := b.String()
		switch digits {
		case "", "-", ".":
			return nil
		}
		f, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return nil
		}
		n := int64(f)
		return &n
	default:
		return nil
	}
}

// toFloat coerces a coordinate value: numbers, or strings with an optional
// trailing hemisphere letter (N/E/S/W) and comma decimals ("48,85N").
func toFloat(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case int:
		f := float64(t)
		return &f
	case int64:
		f := float64(t)
		return &f
	case float64:
		return &t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if last := s[len(s)-1]; strings.ContainsRune("NESWnesw", rune(last)) {
			s = s[:len(s)-1]
		}
		s = strings.ReplaceAll(s, ",", ".")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// firstInt returns the first coercible value among the named keys.
func firstInt(m map[string]any, keys ...string) *int64 {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if n := toInt(v); n != nil {
				return n
			}
		}
	}
	return nil
}
