package model

import (
	"encoding/json"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Pattern is a compiled regular expression loaded from configuration.
// The zero Pattern is "unset".
type Pattern struct {
	re *regexp.Regexp
}

// NewPattern compiles expr. An empty expression yields the unset Pattern.
func NewPattern(expr string) (Pattern, error) {
	if expr == "" {
		return Pattern{}, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return Pattern{re: re}, nil
}

// MustPattern is like NewPattern but panics on error.
func MustPattern(expr string) Pattern {
	p, err := NewPattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) IsZero() bool { return p.re == nil }

func (p Pattern) String() string {
	if p.re == nil {
		return ""
	}
	return p.re.String()
}

// Regexp exposes the compiled expression, nil when unset.
func (p Pattern) Regexp() *regexp.Regexp { return p.re }

// MatchString reports whether s matches. An unset pattern matches nothing.
func (p Pattern) MatchString(s string) bool {
	return p.re != nil && p.re.MatchString(s)
}

// Allows is the filter form: an unset pattern allows everything.
func (p Pattern) Allows(s string) bool {
	return p.re == nil || p.re.MatchString(s)
}

func (p *Pattern) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := NewPattern(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Pattern) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

func (p Pattern) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Pattern) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewPattern(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
