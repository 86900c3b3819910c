package domain

type Register string

const (
	RegisterSupport   Register = "support"
	RegisterReasoning Register = "reasoning"
)

// TenantPolicy holds read-only per-tenant answer shaping flags.
type TenantPolicy struct {
	SuppressSources bool     `yaml:"suppress_sources"`
	Register        Register `yaml:"register"`
	Blacklist       []string `yaml:"blacklist"`
	StripLabels     bool     `yaml:"strip_labels"`
	Clean           bool     `yaml:"clean"`
}

type EventKind string

const (
	EventDocumentUploaded EventKind = "document.uploaded"
	EventDocumentDeleted  EventKind = "document.deleted"
	EventTenantIndexed    EventKind = "tenant.indexed"
)

type TenantEvent struct {
	TenantID   string    `json:"tenant_id"`
	DocumentID string    `json:"document_id,omitempty"`
	Kind       EventKind `json:"kind"`
}
