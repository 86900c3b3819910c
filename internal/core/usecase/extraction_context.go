package usecase

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/tenant-rag/internal/core/text"
)

var definitionPattern = regexp.MustCompile(`(?:was (?:ist|bedeutet|sind)|what (?:is|are|does))\s+(.+?)(?:\?|$)`)

var queryStopwords = map[string]struct{}{
	"was": {}, "ist": {}, "sind": {}, "welche": {}, "welcher": {}, "welches": {}, "der": {}, "die": {}, "das": {},
	"wann": {}, "warum": {}, "wieso": {}, "weshalb": {}, "wird": {}, "werden": {}, "haben": {}, "gibt": {},
	"eine": {}, "einen": {}, "einer": {}, "einem": {}, "kann": {}, "können": {}, "bitte": {}, "mir": {},
	"euch": {}, "ihre": {}, "ihren": {}, "unser": {}, "unsere": {}, "über": {}, "sich": {}, "nicht": {},
	"auch": {}, "noch": {}, "dann": {}, "denn": {}, "oder": {}, "und": {}, "mit": {}, "für": {}, "von": {},
	"what": {}, "which": {}, "where": {}, "when": {}, "does": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "there": {}, "have": {}, "about": {}, "your": {}, "they": {}, "their": {}, "would": {},
	"could": {}, "should": {}, "please": {},
}

func contextualMatchers() []Matcher {
	return []Matcher{matchDefinition, matchKeywordLine}
}

func matchDefinition(query, sectionText string) (string, bool) {
	m := definitionPattern.FindStringSubmatch(strings.ToLower(query))
	if m == nil {
		return "", false
	}
	term := strings.TrimSpace(m[1])
	if term == "" {
		return "", false
	}
	found := make([]string, 0, 2)
	for _, line := range splitLines(sectionText) {
		trimmed := strings.TrimSpace(line)
		if strings.Contains(strings.ToLower(trimmed), term) && text.RuneLen(trimmed) > 10 {
			found = append(found, trimmed)
			if len(found) == 2 {
				break
			}
		}
	}
	if len(found) == 0 {
		return "", false
	}
	return strings.Join(found, " "), true
}

func matchKeywordLine(query, sectionText string) (string, bool) {
	keyword := longestContentWord(query)
	if keyword == "" {
		return "", false
	}
	lines := splitLines(sectionText)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.Contains(strings.ToLower(trimmed), keyword) || text.RuneLen(trimmed) <= 10 {
			continue
		}
		if i+1 < len(lines) {
			if next := strings.TrimSpace(lines[i+1]); text.RuneLen(next) > 20 {
				return trimmed + "\n" + next, true
			}
		}
		return trimmed, true
	}
	return "", false
}

// longestContentWord picks the longest query word that is not a stopword,
// keeping the earliest one on ties.
func longestContentWord(query string) string {
	best := ""
	for _, w := range text.Fields(query) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if text.RuneLen(w) <= 3 {
			continue
		}
		if _, stop := queryStopwords[w]; stop {
			continue
		}
		if text.RuneLen(w) > text.RuneLen(best) {
			best = w
		}
	}
	return best
}
