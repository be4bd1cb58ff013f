package secret

import (
	"regexp"
	"strings"
)

var refPattern = regexp.MustCompile(`\$\{([^:}]+):([^}]+)\}`)

// IsRef reports whether s contains at least one "${type:name}" reference.
func IsRef(s string) bool {
	return refPattern.MatchString(s)
}

// ParseRef parses the first secret reference in s.
func ParseRef(s string) (Ref, bool) {
	m := refPattern.FindStringSubmatch(s)
	if len(m) != 3 {
		return Ref{}, false
	}
	return Ref{
		Type:     strings.TrimSpace(m[1]),
		Name:     strings.TrimSpace(m[2]),
		Original: m[0],
	}, true
}

// FindRefs returns every secret reference present in s.
func FindRefs(s string) []Ref {
	matches := refPattern.FindAllStringSubmatch(s, -1)
	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Ref{
			Type:     strings.TrimSpace(m[1]),
			Name:     strings.TrimSpace(m[2]),
			Original: m[0],
		})
	}
	return refs
}
