package expr

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	placeholderPattern = regexp.MustCompile(`\[([^\]]+)\]`)
	mathPattern        = regexp.MustCompile(`[+\-*/%()]`)
	lazyPlaceholder    = regexp.MustCompile(`\[.+?\]`)
)

// GetPath walks a value tree along a slash or dot separated path. Numeric
// segments index into slices. The bool result is false when any segment is
// missing.
func GetPath(data any, path string) (any, bool) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return data, data != nil
	}
	cur := data
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '.' }) {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		case []float64:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// Stringify renders a resolved value for substitution into text.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case interface{ String() string }:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Sub replaces every [path] placeholder in text with the value found in data.
// Unresolvable placeholders are left untouched.
func Sub(text string, data any) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		v, ok := GetPath(data, m[1:len(m)-1])
		if !ok {
			return m
		}
		return Stringify(v)
	})
}

// SubStrict is like Sub but fails with ErrUnresolved when any placeholder
// cannot be resolved.
func SubStrict(text string, data any) (string, error) {
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		v, ok := GetPath(data, m[1:len(m)-1])
		if !ok {
			if missing == "" {
				missing = m
			}
			return m
		}
		return Stringify(v)
	})
	if missing != "" {
		return "", &UnresolvedError{Placeholder: missing}
	}
	return out, nil
}

// HasMath reports whether a source template contains arithmetic outside of
// its placeholders, meaning the substituted text must be evaluated.
func HasMath(source string) bool {
	return mathPattern.MatchString(lazyPlaceholder.ReplaceAllString(source, ""))
}
