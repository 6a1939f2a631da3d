package expr

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	intPrefix   = regexp.MustCompile(`^[+-]?\d+`)
	floatPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// ParseInt reads a leading integer from v, truncating numbers toward zero.
// Anything without a numeric prefix yields 0.
func ParseInt(v any) int64 {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return int64(math.Trunc(x))
	case int:
		return int64(x)
	case int64:
		return x
	case nil, bool:
		return 0
	}
	m := intPrefix.FindString(strings.TrimSpace(Stringify(v)))
	if m == "" {
		return 0
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseFloat reads a leading decimal number from v. Anything without a
// numeric prefix, or a non-finite result, yields 0.
func ParseFloat(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case nil, bool:
		return 0
	default:
		m := floatPrefix.FindString(strings.TrimSpace(Stringify(v)))
		if m == "" {
			return 0
		}
		var err error
		if f, err = strconv.ParseFloat(m, 64); err != nil {
			return 0
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
