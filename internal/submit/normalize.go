package submit

import (
	"regexp"
	"strings"
)

var (
	hostnamePattern = regexp.MustCompile(`^\S+$`)
	invalidChars    = regexp.MustCompile(`[^\w.\-/]+`)
	repeatedSlashes = regexp.MustCompile(`/{2,}`)
)

// Normalize lowercases name and strips everything that cannot appear in a
// storage key segment, including path separators.
func Normalize(name string) string {
	name = strings.ToLower(name)
	name = invalidChars.ReplaceAllString(name, "")
	name = repeatedSlashes.ReplaceAllString(name, "/")
	name = strings.Trim(name, "/")
	return strings.ReplaceAll(name, "/", "")
}
