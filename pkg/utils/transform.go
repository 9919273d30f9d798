package utils

import (
	"strings"
)

// SplitList splits a comma-separated value and trims each element.
// An empty (or all-whitespace) input yields an empty slice, not a slice with one empty element.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
