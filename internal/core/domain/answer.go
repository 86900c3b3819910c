package domain

type Mode string

const (
	ModeGreeting          Mode = "greeting"
	ModeNoContext         Mode = "fallback"
	ModeLowRelevance      Mode = "low_relevance"
	ModeExtractedFast     Mode = "retrieval_fast"
	ModeExtractedFallback Mode = "retrieval_fallback"
	ModeRetrieval         Mode = "retrieval"
	ModeGenerated         Mode = "rag"
	ModeGeneratedFallback Mode = "rag_fallback"
	ModeError             Mode = "error"
)

type Source struct {
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
	SourceID string  `json:"source_id"`
}

type Answer struct {
	Text    string   `json:"answer"`
	Mode    Mode     `json:"mode"`
	Sources []Source `json:"sources"`
	Topic   string   `json:"topic,omitempty"`
	RSQ     float64  `json:"rsq"`
	Tier    Tier     `json:"tier,omitempty"`
	Model   string   `json:"model,omitempty"`
}

type AnswerRequest struct {
	TenantID      string
	Query         string
	TopK          int
	UseGeneration bool
}
