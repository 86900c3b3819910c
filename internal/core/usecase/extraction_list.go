package usecase

import (
	"fmt"
	"regexp"
	"strings"
)

const maxListItems = 10

var (
	bracketListPattern = regexp.MustCompile(`\[([^\]]+)\]`)
	bulletLinePattern  = regexp.MustCompile(`^\s*(?:[-*•–])\s+(.+)$`)
	numberedPattern    = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
	countCuePattern    = regexp.MustCompile(`\b\d+\b`)
)

var (
	listTriggers = []string{"welche", "which", "nenne", "nennen", "liste", "list", "aufzähl", "what are"}
	listCues     = []string{
		"namen", "begriffe", "kapitel", "punkte", "schritte", "themen", "leistungen", "angebote", "produkte",
		"arten", "optionen", "vorteile", "names", "terms", "chapters", "items", "steps", "topics", "services",
		"options", "products", "features",
	}
	countWords = []string{"zwei", "drei", "vier", "fünf", "sechs", "sieben", "acht", "neun", "zehn",
		"two", "three", "four", "five", "six", "seven", "eight", "nine", "ten"}
)

func listMatchers() []Matcher {
	return []Matcher{matchEnumeration}
}

func isEnumerationQuery(query string) bool {
	q := strings.ToLower(query)
	if !containsAny(q, listTriggers...) {
		return false
	}
	if containsAny(q, listCues...) || countCuePattern.MatchString(q) {
		return true
	}
	for _, w := range strings.Fields(q) {
		for _, cw := range countWords {
			if w == cw {
				return true
			}
		}
	}
	return false
}

func matchEnumeration(query, sectionText string) (string, bool) {
	if !isEnumerationQuery(query) {
		return "", false
	}

	items := bracketItems(sectionText)
	if len(items) < 2 {
		items = lineItems(sectionText)
	}
	items = dedupeItems(items)
	if len(items) < 2 {
		return "", false
	}
	if len(items) > maxListItems {
		items = items[:maxListItems]
	}

	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, item)
	}
	return b.String(), true
}

func bracketItems(sectionText string) []string {
	var out []string
	for _, m := range bracketListPattern.FindAllStringSubmatch(sectionText, -1) {
		for _, part := range strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || r == ';' }) {
			out = append(out, part)
		}
	}
	return out
}

func lineItems(sectionText string) []string {
	var out []string
	for _, line := range splitLines(sectionText) {
		if m := bulletLinePattern.FindStringSubmatch(line); m != nil {
			out = append(out, m[1])
			continue
		}
		if m := numberedPattern.FindStringSubmatch(line); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}

func dedupeItems(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.Trim(strings.TrimSpace(item), ".,;:")
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
