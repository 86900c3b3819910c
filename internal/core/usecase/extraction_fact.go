package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/kirillkom/tenant-rag/internal/core/text"
)

var (
	totalPattern       = regexp.MustCompile(`(?i)Gesamtbetrag[:\s]*([\d.,]+\s*€)`)
	totalAmountPattern = regexp.MustCompile(`(?i)Gesamtbetrag[:\s]*([\d.,]+)\s*€`)
	netPattern         = regexp.MustCompile(`(?i)Nettobetrag[:\s]*([\d.,]+\s*€)`)
	discountPattern    = regexp.MustCompile(`(?i)(\d+)\s*%\s*Skonto`)
	duePattern         = regexp.MustCompile(`(?i)(?:bis zum|fällig(?: am)?|due(?: by| on)?|bis)\s+(\d{1,2}\.\d{1,2}\.\d{4})`)
	invoiceDatePattern = regexp.MustCompile(`(?i)Rechnungsdatum[:\s]*(\d{1,2}\.\d{1,2}\.\d{4})`)
	anyDatePattern     = regexp.MustCompile(`\d{1,2}\.\d{1,2}\.\d{4}`)
	orgFallbackPattern = regexp.MustCompile(`[A-Z][a-z]+\s+[A-Z][a-z]+`)
	invoiceNoPattern   = regexp.MustCompile(`(?i)(?:\bRechnungs?\s*(?:Nr\.?|nummer)|\bInvoice\s*(?:No\.?|Number|#))\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/]*\d[A-Z0-9\-/]*)`)
	invoiceIDPattern   = regexp.MustCompile(`(?i)\b(INV[\-/]?\d[A-Z0-9\-/]*)`)
	invoiceQueryCue    = regexp.MustCompile(`(?i)\b(?:inv|invoice|rechnungsnummer|rechnungsnr)\b`)
	chapterPattern     = regexp.MustCompile(`(?:kapitel|chapter|abschnitt)\s+(\d+\.\d+)`)
)

var orgBlacklist = map[string]struct{}{
	"ihr": {}, "unternehmen": {}, "rechnung": {}, "betreff": {}, "seite": {}, "damen": {}, "herren": {},
}

func factMatchers() []Matcher {
	return []Matcher{
		matchTotalAmount,
		matchNetAmount,
		matchDiscount,
		matchDate,
		matchOrganization,
		matchInvoiceNumber,
		matchConclusion,
		matchChapter,
	}
}

func matchTotalAmount(query, sectionText string) (string, bool) {
	q := strings.ToLower(query)
	if !strings.Contains(q, "gesamtbetrag") && !(strings.Contains(q, "wie hoch") && strings.Contains(q, "betrag")) {
		return "", false
	}
	return firstGroup(totalPattern, collapseWhitespace(sectionText))
}

func matchNetAmount(query, sectionText string) (string, bool) {
	if !strings.Contains(strings.ToLower(query), "nettobetrag") {
		return "", false
	}
	return firstGroup(netPattern, collapseWhitespace(sectionText))
}

func matchDiscount(query, sectionText string) (string, bool) {
	q := strings.ToLower(query)
	if !containsAny(q, "skonto", "spare") {
		return "", false
	}
	normalized := collapseWhitespace(sectionText)
	raw, ok := firstGroup(discountPattern, normalized)
	if !ok {
		return "", false
	}
	percent, err := strconv.Atoi(raw)
	if err != nil {
		return "", false
	}
	if amountRaw, ok := firstGroup(totalAmountPattern, normalized); ok {
		if amount, ok := parseGermanAmount(amountRaw); ok {
			return formatEuro(amount * float64(percent) / 100), true
		}
	}
	return fmt.Sprintf("%d%%", percent), true
}

func matchDate(query, sectionText string) (string, bool) {
	q := strings.ToLower(query)
	if !containsAny(q, "datum", "wann", "date", "when") {
		return "", false
	}
	if containsAny(q, "fällig", "bis", "due") {
		if v, ok := firstGroup(duePattern, sectionText); ok {
			return v, true
		}
	}
	if v, ok := firstGroup(invoiceDatePattern, sectionText); ok {
		return v, true
	}
	if v := anyDatePattern.FindString(sectionText); v != "" {
		return v, true
	}
	return "", false
}

func matchOrganization(query, sectionText string) (string, bool) {
	q := strings.ToLower(query)
	if !containsAny(q, "firma", "unternehmen", "company") {
		return "", false
	}
	lines := splitLines(sectionText)
	if len(lines) > 15 {
		lines = lines[:15]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		words := strings.Fields(line)
		if len(words) < 2 || len(words) > 4 {
			continue
		}
		if capitalizedWords(words) && !hasBlacklistedWord(words) {
			return line, true
		}
	}
	candidate := orgFallbackPattern.FindString(sectionText)
	if candidate == "" || strings.Contains(candidate, "Ihr") || strings.Contains(candidate, "Unternehmen") {
		return "", false
	}
	return candidate, true
}

func matchInvoiceNumber(query, sectionText string) (string, bool) {
	q := strings.ToLower(query)
	if !invoiceQueryCue.MatchString(q) && !(strings.Contains(q, "rechnung") && strings.Contains(q, "nummer")) {
		return "", false
	}
	if id, ok := firstGroup(invoiceNoPattern, sectionText); ok {
		return id, true
	}
	return firstGroup(invoiceIDPattern, sectionText)
}

func matchConclusion(query, sectionText string) (string, bool) {
	q := strings.ToLower(query)
	if !containsAny(q, "fazit", "ausblick") {
		return "", false
	}
	collected := make([]string, 0, 3)
	found := false
	for _, line := range splitLines(sectionText) {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if containsAny(lower, "fazit", "ausblick") && text.RuneLen(trimmed) > 5 {
			found = true
		}
		if found && text.RuneLen(trimmed) > 10 {
			collected = append(collected, trimmed)
			if len(collected) == 3 {
				break
			}
		}
	}
	if len(collected) == 0 {
		return "", false
	}
	return strings.Join(collected, "\n"), true
}

func matchChapter(query, sectionText string) (string, bool) {
	m := chapterPattern.FindStringSubmatch(strings.ToLower(query))
	if m == nil {
		return "", false
	}
	number := m[1]
	lines := splitLines(sectionText)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.Contains(trimmed, number) || text.RuneLen(trimmed) <= 5 {
			continue
		}
		relevant := []string{trimmed}
		for j := i + 1; j < len(lines) && j <= i+5; j++ {
			next := strings.TrimSpace(lines[j])
			if text.RuneLen(next) > 10 {
				relevant = append(relevant, next)
			}
		}
		if len(relevant) > 1 {
			if len(relevant) > 4 {
				relevant = relevant[:4]
			}
			return strings.Join(relevant, "\n"), true
		}
	}
	return "", false
}

func firstGroup(pattern *regexp.Regexp, s string) (string, bool) {
	m := pattern.FindStringSubmatch(s)
	if len(m) < 2 {
		return "", false
	}
	v := strings.TrimSpace(m[1])
	return v, v != ""
}

func capitalizedWords(words []string) bool {
	for _, w := range words {
		first := []rune(w)[0]
		if unicode.IsLetter(first) && !unicode.IsUpper(first) {
			return false
		}
	}
	return true
}

func hasBlacklistedWord(words []string) bool {
	for _, w := range words {
		if _, ok := orgBlacklist[strings.ToLower(strings.Trim(w, ".,:;"))]; ok {
			return true
		}
	}
	return false
}

func parseGermanAmount(raw string) (float64, bool) {
	normalized := strings.ReplaceAll(raw, ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")
	v, err := strconv.ParseFloat(strings.Trim(normalized, "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// formatEuro renders 1234.5 as "1.234,50 €".
func formatEuro(v float64) string {
	cents := int64(v*100 + 0.5)
	whole := cents / 100
	frac := cents % 100

	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s,%02d €", b.String(), frac)
}
