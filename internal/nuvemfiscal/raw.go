package nuvemfiscal

import (
	"strconv"
	"strings"
)

// RawDocument is a document payload as the remote API returned it, kept
// schemaless because the government APIs are inconsistent about field names.
type RawDocument map[string]any

// Str returns the first non-empty string value among the given keys.
// A key may be a dotted path ("data.chave") into nested objects.
func (d RawDocument) Str(aliases ...string) string {
	for _, key := range aliases {
		if s, ok := lookup(d, key).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Float returns the first parseable numeric value among the given keys,
// accepting both JSON numbers and numeric strings. Missing or unparseable
// values yield the fallback.
func (d RawDocument) Float(fallback float64, aliases ...string) float64 {
	for _, key := range aliases {
		switch v := lookup(d, key).(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return fallback
}

func lookup(m map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[p]
		if !ok {
			return nil
		}
	}
	return cur
}
