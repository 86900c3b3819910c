package sectioning

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

const (
	maxCapsHeadingRunes     = 50
	maxCapsHeadingWords     = 8
	maxNumberedHeadingRunes = 60
	maxMarkdownHeadingRunes = 60
	maxParagraphTitleRunes  = 50
	maxSectionIDRunes       = 50

	documentTitle = "DOKUMENT"
)

var (
	numberedHeadingPattern = regexp.MustCompile(`^\d+\.\s+.+$`)
	slugStripPattern       = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	slugSpacePattern       = regexp.MustCompile(`\s+`)
)

// Splitter segments extracted text into titled sections. Headings are
// all-caps lines, numbered lines or markdown headings. Text without headings
// falls back to paragraph blocks and finally to one section.
type Splitter struct{}

func NewSplitter() *Splitter {
	return &Splitter{}
}

type draft struct {
	title string
	body  []string
}

func (s *Splitter) Split(text string) []domain.Section {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}

	ids := newIDSet()
	var out []domain.Section
	var current *draft
	flush := func() {
		if current == nil {
			return
		}
		if body := joinNonEmpty(current.body); body != "" {
			out = append(out, domain.Section{
				ID:    ids.claim(current.title, len(out)),
				Title: current.title,
				Text:  current.title + "\n" + body,
			})
		}
		current = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if current != nil {
				current.body = append(current.body, "")
			}
			continue
		}
		if title, ok := headingTitle(trimmed); ok {
			flush()
			current = &draft{title: title}
			continue
		}
		if current != nil {
			current.body = append(current.body, line)
		}
	}
	flush()

	if len(out) > 0 {
		return out
	}
	return paragraphSections(lines)
}

func headingTitle(line string) (string, bool) {
	n := utf8.RuneCountInString(line)
	if n <= maxCapsHeadingRunes && len(strings.Fields(line)) <= maxCapsHeadingWords && isUpper(line) {
		return line, true
	}
	if n <= maxNumberedHeadingRunes && numberedHeadingPattern.MatchString(line) {
		return line, true
	}
	if strings.HasPrefix(line, "#") && n <= maxMarkdownHeadingRunes {
		if title := strings.TrimSpace(strings.TrimLeft(line, "#")); title != "" {
			return title, true
		}
	}
	return "", false
}

// paragraphSections splits on blank lines. A short first line titles its
// block; longer blocks are numbered, or titled DOKUMENT when the text is a
// single block.
func paragraphSections(lines []string) []domain.Section {
	var blocks [][]string
	var block []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if len(block) > 0 {
				blocks = append(blocks, block)
				block = nil
			}
			continue
		}
		block = append(block, strings.TrimSpace(line))
	}
	if len(block) > 0 {
		blocks = append(blocks, block)
	}

	ids := newIDSet()
	out := make([]domain.Section, 0, len(blocks))
	for i, b := range blocks {
		title := fmt.Sprintf("Abschnitt %d", i+1)
		if len(blocks) == 1 {
			title = documentTitle
		}
		body := b
		if utf8.RuneCountInString(b[0]) <= maxParagraphTitleRunes {
			title = b[0]
			body = b[1:]
		}
		sectionText := title
		if len(body) > 0 {
			sectionText = title + "\n" + strings.Join(body, "\n")
		}
		out = append(out, domain.Section{ID: ids.claim(title, i), Title: title, Text: sectionText})
	}
	return out
}

func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

func joinNonEmpty(lines []string) string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

type idSet map[string]int

func newIDSet() idSet { return make(idSet) }

// claim returns a slug for title that is unique within the document.
func (ids idSet) claim(title string, position int) string {
	id := Slug(title)
	if id == "" {
		id = fmt.Sprintf("section_%d", position)
	}
	ids[id]++
	if n := ids[id]; n > 1 {
		id = fmt.Sprintf("%s_%d", id, n)
		ids[id]++
	}
	return id
}

func Slug(title string) string {
	id := strings.ToLower(strings.TrimSpace(title))
	id = slugStripPattern.ReplaceAllString(id, "")
	id = slugSpacePattern.ReplaceAllString(id, "_")
	if utf8.RuneCountInString(id) > maxSectionIDRunes {
		id = string([]rune(id)[:maxSectionIDRunes])
	}
	return id
}
