package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tokenize lowercases s and splits it into runs of letters, digits and
// underscores, matching a \b\w+\b word pattern.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}
	s = norm.NFC.String(s)

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

func TokenSet(s string) map[string]struct{} {
	tokens := Tokenize(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

// Overlap returns the share of a's tokens that also occur in b.
func Overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matches := 0
	for token := range a {
		if _, ok := b[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

// Fields splits on whitespace and lowercases, keeping punctuation attached.
func Fields(s string) []string {
	parts := strings.Fields(strings.ToLower(norm.NFC.String(s)))
	return parts
}

// Truncate cuts s to at most limit runes and appends an ellipsis when cut.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func RuneLen(s string) int {
	return len([]rune(s))
}
