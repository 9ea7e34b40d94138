package streamhub

import (
	"sort"
	"strconv"
	"strings"
)

// Helpers for walking loosely-typed device documents. Every accessor
// tolerates nil and wrong shapes and returns a zero value instead.

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func getString(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	if s, ok := m[key].(string); ok {
		return &s
	}
	return nil
}

// getInt coerces ints, floats and numeric strings; def is returned for
// anything else.
func getInt(m map[string]any, key string, def int) int {
	if m == nil {
		return def
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getInt64(m map[string]any, key string) int64 {
	return int64(getInt(m, key, 0))
}

func getBool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

// sortedNumericKeys returns map keys ordered numerically where possible,
// lexically otherwise. Used for map-encoded input lists.
func sortedNumericKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, erri := strconv.Atoi(keys[i])
		nj, errj := strconv.Atoi(keys[j])
		if erri == nil && errj == nil {
			return ni < nj
		}
		if erri == nil {
			return true
		}
		if errj == nil {
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}
