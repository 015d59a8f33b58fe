// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package playground

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// compactLimit is the longest single-line rendering of a structured value
// before the formatter switches to the indented multi-line form.
const compactLimit = 60

const cycleMarker = "[Circular]"

var identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// FormatValue renders a single value as display text. Strings pass through
// unchanged; everything else is rendered as an object-literal style form.
// Deterministic for cycle-free input, and cycles render as a marker instead
// of recursing forever.
func FormatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return formatAny(v, 0, false, map[uintptr]bool{})
}

// formatCell renders a value for a table cell. Same rules as FormatValue,
// but structured values never span multiple lines so column alignment holds.
func formatCell(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return formatAny(v, 0, true, map[uintptr]bool{})
}

func formatAny(v any, indent int, compact bool, seen map[uintptr]bool) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case map[string]any:
		return formatMap(val, indent, compact, seen)
	case []any:
		return formatSlice(val, indent, compact, seen)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatFloat avoids scientific notation and renders whole numbers without a
// fractional part. JSON decoding yields float64 for every number, so this is
// what keeps integers looking like integers.
func formatFloat(val float64) string {
	if val == math.Trunc(val) && val >= math.MinInt64 && val <= math.MaxInt64 {
		return strconv.FormatInt(int64(val), 10)
	}
	return strconv.FormatFloat(val, 'f', -1, 64)
}

func formatMap(val map[string]any, indent int, compact bool, seen map[uintptr]bool) string {
	ptr := reflect.ValueOf(val).Pointer()
	if seen[ptr] {
		return cycleMarker
	}
	seen[ptr] = true
	defer delete(seen, ptr)

	if len(val) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(val))
	for k := range val {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]string, len(keys))
	for i, k := range keys {
		entries[i] = formatKey(k) + ": " + formatAny(val[k], indent+1, compact, seen)
	}

	oneLine := "{ " + strings.Join(entries, ", ") + " }"
	if compact || fitsOneLine(oneLine) {
		return oneLine
	}

	pad := strings.Repeat("  ", indent+1)
	return "{\n" + pad + strings.Join(entries, ",\n"+pad) + "\n" + strings.Repeat("  ", indent) + "}"
}

func formatSlice(val []any, indent int, compact bool, seen map[uintptr]bool) string {
	if len(val) > 0 {
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return cycleMarker
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}

	if len(val) == 0 {
		return "[]"
	}

	entries := make([]string, len(val))
	for i, item := range val {
		entries[i] = formatAny(item, indent+1, compact, seen)
	}

	oneLine := "[" + strings.Join(entries, ", ") + "]"
	if compact || fitsOneLine(oneLine) {
		return oneLine
	}

	pad := strings.Repeat("  ", indent+1)
	return "[\n" + pad + strings.Join(entries, ",\n"+pad) + "\n" + strings.Repeat("  ", indent) + "]"
}

func formatKey(k string) string {
	if identifierRe.MatchString(k) {
		return k
	}
	return strconv.Quote(k)
}

func fitsOneLine(s string) bool {
	return len(s) <= compactLimit && !strings.Contains(s, "\n")
}
