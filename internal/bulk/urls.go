package bulk

import (
	"net/url"
	"strings"
)

// ValidateURLs filters raw input down to absolute http/https URLs,
// deduplicating while preserving first-occurrence order. Invalid entries
// are dropped silently; an all-invalid batch is the caller's error to
// surface, not this function's.
func ValidateURLs(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	valid := make([]string, 0, len(raw))
	for _, candidate := range raw {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			continue
		}
		u, err := url.Parse(trimmed)
		if err != nil {
			continue
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		valid = append(valid, trimmed)
	}
	return valid
}
