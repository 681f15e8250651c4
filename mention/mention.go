// Package mention extracts delegation targets from free text.
//
// A mention is `@` followed by a maximal run of ASCII letters, digits and
// underscores. Matching against agent names is case-insensitive, so tokens
// are returned lowercased. Every recognized name is treated as a delegation
// request; the parser does not try to tell a casual reference from a request
// to act.
package mention

import (
	"regexp"
	"strings"
)

var pattern = regexp.MustCompile(`@([A-Za-z0-9_]+)`)

// Parse returns the unique lowercased names mentioned in text, in order of
// first appearance.
func Parse(text string) []string {
	return ParseExcluding(text, "")
}

// ParseExcluding is Parse with self removed from the result. It is used on an
// agent's own output so an agent never delegates to itself.
func ParseExcluding(text, self string) []string {
	matches := pattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	self = strings.ToLower(self)
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))

	for _, m := range matches {
		name := strings.ToLower(m[1])
		if name == self {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	return names
}

// Contains reports whether text mentions name.
func Contains(text, name string) bool {
	name = strings.ToLower(name)
	for _, n := range Parse(text) {
		if n == name {
			return true
		}
	}
	return false
}
