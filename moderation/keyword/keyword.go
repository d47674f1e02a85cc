package keyword

import (
	"slices"
	"strings"
)

// Helper to check a single token against a list of tokens
func TokenInSet(tok string, set []string) bool {
	return slices.Contains(set, tok)
}

// Returns the first token found in the set (by the check function), also trying the token with a trailing plural "s" removed. Empty string if nothing matched.
func FirstMatch(tokens []string, inSet func(tok string) bool) string {
	for _, tok := range tokens {
		if inSet(tok) {
			return tok
		}
		if trimmed := strings.TrimSuffix(tok, "s"); trimmed != tok && len(trimmed) > 1 && inSet(trimmed) {
			return trimmed
		}
	}
	return ""
}
