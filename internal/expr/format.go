package expr

import "regexp"

var formatterPattern = regexp.MustCompile(`\[(\w+):([^\]]+)\]`)

// Formatter renders one resolved value for a [tag:path] placeholder.
type Formatter func(v any) string

// Formatters maps tag names to their Formatter.
type Formatters map[string]Formatter

// SubFormatted expands [tag:path] placeholders whose tag has a registered
// formatter, then substitutes the remaining [path] placeholders like Sub.
// Unknown tags are left for Sub, which leaves them untouched when unresolved.
func SubFormatted(text string, data any, fmts Formatters) string {
	text = formatterPattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := formatterPattern.FindStringSubmatch(m)
		f, ok := fmts[parts[1]]
		if !ok {
			return m
		}
		v, _ := GetPath(data, parts[2])
		return f(v)
	})
	return Sub(text, data)
}
