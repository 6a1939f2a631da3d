package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
)

// Value is a resolved field: either numeric or an opaque string.
type Value struct {
	num   float64
	str   string
	isNum bool
}

// Num returns a numeric value.
func Num(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		f = 0
	}
	return Value{num: f, isNum: true}
}

// Str returns a non-numeric value.
func Str(s string) Value { return Value{str: s} }

// IsNumeric reports whether the value is a number.
func (v Value) IsNumeric() bool { return v.isNum }

// Float returns the numeric value, or 0 for strings.
func (v Value) Float() float64 {
	if v.isNum {
		return v.num
	}
	return 0
}

// String renders the value the way it appears in templates and expressions.
func (v Value) String() string {
	if v.isNum {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.str
}

// Any returns the value as a plain Go value for expression contexts.
func (v Value) Any() any {
	if v.isNum {
		return v.num
	}
	return v.str
}

// Merge combines v with an incoming value: numbers sum, anything else is
// overwritten by the incoming value.
func (v Value) Merge(in Value) Value {
	if v.isNum && in.isNum {
		return Num(v.num + in.num)
	}
	return in
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.isNum {
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	}
	return json.Marshal(v.str)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = Str("")
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Str(s)
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*v = Str(string(data))
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("decoding value %s: %w", data, err)
		}
		*v = Num(f)
	}
	return nil
}

// Values maps field names to resolved values.
type Values map[string]Value

// MergeFrom folds in into vs using the Value merge rule.
func (vs Values) MergeFrom(in Values) {
	for k, nv := range in {
		if old, ok := vs[k]; ok {
			vs[k] = old.Merge(nv)
		} else {
			vs[k] = nv
		}
	}
}

// Clone returns a shallow copy. Values are immutable so this is a full copy.
func (vs Values) Clone() Values {
	if vs == nil {
		return Values{}
	}
	return maps.Clone(vs)
}

// Map converts to a generic map suitable for path lookups.
func (vs Values) Map() map[string]any {
	m := make(map[string]any, len(vs))
	for k, v := range vs {
		m[k] = v.Any()
	}
	return m
}
