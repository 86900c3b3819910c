package usecase

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/text"
)

const (
	copyPasteMinShare     = 0.3
	copyPasteOverlap      = 0.4
	copyPasteLengthShare  = 0.6
	fallbackSentenceMin   = 20
	fallbackSentenceCount = 3
	fallbackPrefixRunes   = 200
)

var (
	greetings = map[string]struct{}{
		"hallo": {}, "hi": {}, "hey": {}, "guten tag": {}, "guten morgen": {},
		"guten abend": {}, "servus": {}, "moin": {}, "hello": {}, "good morning": {},
	}

	sentenceSplitPattern = regexp.MustCompile(`[.!?]+`)
	blankRunPattern      = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
	labelPrefixPattern   = regexp.MustCompile(`(?i)^\s*(?:\*\*)?(?:antwort|answer|kurzantwort|zusammenfassung)(?:\*\*)?\s*:\s*`)
	sourceLinePattern    = regexp.MustCompile(`(?i)^\s*(?:quelle|quellen|source|sources|kontext|context)\s*:`)
	structuralPattern    = regexp.MustCompile(`^\s*(?:={2,}.*|-{3}\s*seite\s+\d+\s*-{3}|seite\s+\d+(?:\s+von\s+\d+)?)\s*$`)
	markdownHeadPattern  = regexp.MustCompile(`^\s*#{1,6}\s+`)
)

func IsGreeting(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	q = strings.TrimRight(q, "!.?, ")
	_, ok := greetings[q]
	return ok
}

// IsCopyPaste reports whether a generated answer mostly repeats the source
// section. Short answers relative to the section are never flagged.
func IsCopyPaste(answer, chunk string) bool {
	a := strings.TrimSpace(answer)
	c := strings.TrimSpace(chunk)
	if a == "" || c == "" {
		return false
	}
	answerLen := float64(text.RuneLen(a))
	chunkLen := float64(text.RuneLen(c))
	if answerLen <= chunkLen*copyPasteMinShare {
		return false
	}
	if a == c || strings.Contains(c, a) || strings.Contains(a, c) {
		return true
	}
	if answerLen > chunkLen*copyPasteLengthShare {
		return true
	}
	return text.Overlap(fieldSet(a), fieldSet(c)) > copyPasteOverlap
}

func fieldSet(s string) map[string]struct{} {
	fields := text.Fields(s)
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// SentenceFallback returns the first substantive sentences of a section, or
// a prefix of it when no sentence qualifies.
func SentenceFallback(chunk string) string {
	var picked []string
	for _, s := range sentenceSplitPattern.Split(chunk, -1) {
		s = strings.TrimSpace(s)
		if text.RuneLen(s) <= fallbackSentenceMin {
			continue
		}
		picked = append(picked, s)
		if len(picked) == fallbackSentenceCount {
			break
		}
	}
	if len(picked) > 0 {
		return strings.Join(picked, ". ") + "."
	}
	return text.Truncate(strings.TrimSpace(chunk), fallbackPrefixRunes)
}

// AnswerShaper applies one tenant's answer shaping. The blacklist is
// compiled once, when the tenant engine is built.
type AnswerShaper struct {
	policy    domain.TenantPolicy
	blacklist *regexp.Regexp
}

func NewAnswerShaper(policy domain.TenantPolicy) *AnswerShaper {
	return &AnswerShaper{policy: policy, blacklist: compileBlacklist(policy.Blacklist)}
}

func (a *AnswerShaper) Policy() domain.TenantPolicy {
	return a.policy
}

// Clean shapes a final answer. Blank-line runs are always collapsed.
func (a *AnswerShaper) Clean(answer, query string) string {
	out := strings.ReplaceAll(answer, "\r\n", "\n")
	if a.policy.Clean || a.policy.StripLabels {
		out = stripStructuralLines(out)
	}
	if a.blacklist != nil {
		out = removeBlacklisted(out, a.blacklist)
	}
	if a.policy.Clean {
		out = dropEchoedQuestion(out, query)
	}
	out = blankRunPattern.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// CleanAnswer shapes a single answer without keeping the compiled shaper.
func CleanAnswer(answer, query string, policy domain.TenantPolicy) string {
	return NewAnswerShaper(policy).Clean(answer, query)
}

func stripStructuralLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		lower := strings.ToLower(line)
		if sourceLinePattern.MatchString(line) || structuralPattern.MatchString(lower) {
			continue
		}
		line = markdownHeadPattern.ReplaceAllString(line, "")
		line = labelPrefixPattern.ReplaceAllString(line, "")
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// compileBlacklist builds one whole-word pattern for all words, longest
// first so a word is never cut short by one of its prefixes.
func compileBlacklist(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, word := range words {
		if word = strings.TrimSpace(word); word != "" {
			quoted = append(quoted, regexp.QuoteMeta(word))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])(?:` + strings.Join(quoted, "|") + `)($|[^\p{L}\p{N}_])`)
}

func removeBlacklisted(s string, pattern *regexp.Regexp) string {
	for pattern.MatchString(s) {
		s = pattern.ReplaceAllString(s, "$1$2")
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}

func dropEchoedQuestion(s, query string) string {
	first, rest, found := strings.Cut(strings.TrimLeft(s, "\n "), "\n")
	if !found || strings.TrimSpace(rest) == "" {
		return s
	}
	queryTokens := text.TokenSet(query)
	lineTokens := text.TokenSet(first)
	if len(queryTokens) == 0 || len(lineTokens) == 0 {
		return s
	}
	if text.Overlap(lineTokens, queryTokens) >= 0.8 && text.Overlap(queryTokens, lineTokens) >= 0.8 {
		return rest
	}
	return s
}
