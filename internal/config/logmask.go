// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// sensitiveKeywords mark field or env names whose values must never be logged.
var sensitiveKeywords = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"apikey",
	"api_key",
	"credential",
	"cookie",
}

func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return true
		}
	}
	return false
}

// MaskSecrets converts data into maps and slices with sensitive fields
// replaced by "***". Non-empty secrets only; an empty value stays empty.
func MaskSecrets(data any) any {
	if data == nil {
		return nil
	}
	if d, ok := data.(time.Duration); ok {
		return d.String()
	}

	val := reflect.ValueOf(data)
	for val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.Map:
		result := make(map[string]any, val.Len())
		iter := val.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			result[key] = maskField(key, iter.Value())
		}
		return result

	case reflect.Slice, reflect.Array:
		result := make([]any, val.Len())
		for i := range result {
			result[i] = MaskSecrets(val.Index(i).Interface())
		}
		return result

	case reflect.Struct:
		result := make(map[string]any)
		typ := val.Type()
		for i := 0; i < val.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			result[field.Name] = maskField(field.Name, val.Field(i))
		}
		return result

	default:
		return val.Interface()
	}
}

func maskField(name string, v reflect.Value) any {
	if isSensitiveKey(name) {
		if v.IsZero() {
			return ""
		}
		return "***"
	}
	return MaskSecrets(v.Interface())
}

// Flatten returns the masked configuration as dotted keys, e.g.
// "Jobs.MaxAge" -> "1h0m0s".
func Flatten(cfg AppConfig) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", MaskSecrets(cfg))
	return out
}

func flattenInto(out map[string]any, prefix string, v any) {
	m, ok := v.(map[string]any)
	if !ok {
		out[prefix] = v
		return
	}
	for k, child := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		flattenInto(out, key, child)
	}
}

// Changed lists the dotted keys whose masked values differ between a and b.
func Changed(a, b AppConfig) []string {
	fa, fb := Flatten(a), Flatten(b)
	var keys []string
	for k, va := range fa {
		if !reflect.DeepEqual(va, fb[k]) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
