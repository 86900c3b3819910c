package domain

// Section is the unit of indexed and retrieved text. Sections are immutable
// once stored and are replaced wholesale when their document is re-uploaded.
type Section struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Text       string `json:"text"`
	Position   int    `json:"position"`
}

type Hit struct {
	Section Section `json:"section"`
	Score   float64 `json:"score"`
}

func ClampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// SectionPointKey identifies a section across the tenant's vector collection.
func SectionPointKey(s Section) string {
	return s.TenantID + "_" + s.DocumentID + "_" + s.ID
}
