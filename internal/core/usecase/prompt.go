package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

const maxPromptSections = 3

var generationStopSequences = []string{"\n\n\n", "=== KRITISCHE REGELN", "=== ANTWORT-REGELN"}

const supportSystemPrompt = `Du bist der Support-Assistent dieses Unternehmens.
Antworte kurz, direkt und freundlich in höchstens 2-3 Sätzen.
Nutze ausschließlich die Informationen aus dem bereitgestellten Kontext.
Schreibe keine Erklärungen über dein Vorgehen, keine Analyse und keine Quellenangaben.
Verwende keine Überschriften, Aufzählungszeichen oder Labels wie "Antwort:".
Wenn etwas unklar ist, stelle höchstens 1-2 kurze Rückfragen.`

const reasoningSystemPrompt = `Du bist ein Dokumenten-Assistent.
Analysiere die Frage Schritt für Schritt anhand des bereitgestellten Kontexts.
Formuliere die Antwort in eigenen Worten und kopiere niemals Abschnitte aus dem Dokument.
Gib keine Seitenzahlen, Kopf- oder Fußzeilen aus.
Wenn der Kontext die Frage nicht beantwortet, sage das offen.`

func SystemPrompt(register domain.Register) string {
	if register == domain.RegisterSupport {
		return supportSystemPrompt
	}
	return reasoningSystemPrompt
}

// BuildPrompt embeds up to three ranked sections as numbered context blocks.
func BuildPrompt(query string, hits []domain.Hit) string {
	parts := make([]string, 0, maxPromptSections)
	for i, hit := range hits {
		if i >= maxPromptSections {
			break
		}
		title := strings.TrimSpace(hit.Section.Title)
		if title == "" {
			title = "Abschnitt"
		}
		parts = append(parts, fmt.Sprintf("%d. %s:\n%s", i+1, title, strings.TrimSpace(hit.Section.Text)))
	}

	var b strings.Builder
	b.WriteString("=== DOKUMENT ===\n")
	b.WriteString(strings.Join(parts, "\n\n"))
	b.WriteString("\n\n=== FRAGE ===\n")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n\n=== DEINE AUFGABE ===\n")
	b.WriteString("1. Finde die relevante Information im Dokument\n")
	b.WriteString("2. Antworte in maximal 2-3 Sätzen in eigenen Worten\n")
	b.WriteString("3. Beantworte nur die gestellte Frage\n")
	b.WriteString("\n=== ANTWORT ===\n")
	return b.String()
}

func stopSequences() []string {
	out := make([]string, len(generationStopSequences))
	copy(out, generationStopSequences)
	return out
}
